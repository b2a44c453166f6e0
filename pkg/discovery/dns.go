package discovery

import (
    "context"
    "net"
    "strconv"
    "strings"
    "sync"
    "time"
)

// DNSOptions configures DNS discovery.
type DNSOptions struct {
    // Names are SRV names (_service._proto.domain), hostnames, or literal
    // host:port pairs that are passed through.
    Names []string
    // Port completes A/AAAA answers. Defaults to the memberlist port 7946.
    Port int
    // Refresh bounds how long answers are cached. Defaults to 5s.
    Refresh time.Duration
    // Resolver overrides net.DefaultResolver.
    Resolver *net.Resolver
}

// DNS resolves seeds through SRV and A/AAAA lookups. Names that fail to
// resolve are skipped.
type DNS struct {
    opts DNSOptions

    mu       sync.Mutex
    loadedAt time.Time
    cache    []string
}

func NewDNS(opts DNSOptions) *DNS {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Port == 0 { opts.Port = 7946 }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    return &DNS{opts: opts}
}

func (d *DNS) Seeds(ctx context.Context) ([]string, error) {
    d.mu.Lock()
    defer d.mu.Unlock()
    if len(d.cache) > 0 && time.Since(d.loadedAt) < d.opts.Refresh {
        return append([]string(nil), d.cache...), nil
    }
    var out []string
    for _, name := range d.opts.Names {
        out = append(out, d.resolve(ctx, strings.TrimSpace(name))...)
    }
    d.cache, d.loadedAt = dedupSorted(out), time.Now()
    return append([]string(nil), d.cache...), nil
}

func (d *DNS) resolve(ctx context.Context, name string) []string {
    switch {
    case name == "":
        return nil
    case strings.HasPrefix(name, "_"):
        if svc, proto, domain, ok := splitSRV(name); ok {
            if _, recs, err := d.opts.Resolver.LookupSRV(ctx, svc, proto, domain); err == nil && len(recs) > 0 {
                out := make([]string, 0, len(recs))
                for _, r := range recs {
                    out = append(out, net.JoinHostPort(strings.TrimSuffix(r.Target, "."), strconv.Itoa(int(r.Port))))
                }
                return out
            }
        }
    default:
        if _, _, err := net.SplitHostPort(name); err == nil { return []string{name} }
    }
    ips, err := d.opts.Resolver.LookupHost(ctx, name)
    if err != nil { return nil }
    out := make([]string, 0, len(ips))
    for _, ip := range ips {
        out = append(out, net.JoinHostPort(ip, strconv.Itoa(d.opts.Port)))
    }
    return out
}

// splitSRV splits _service._proto.domain.
func splitSRV(fqdn string) (service, proto, domain string, ok bool) {
    parts := strings.SplitN(fqdn, ".", 3)
    if len(parts) < 3 || !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") { return "", "", "", false }
    return parts[0][1:], parts[1][1:], parts[2], true
}
