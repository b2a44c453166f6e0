// Package discovery supplies the gossip seed addresses a node joins through.
package discovery

import (
    "context"
    "errors"
    "fmt"
    "sort"
    "strings"
    "time"
)

var ErrUnknownKind = errors.New("discovery: unknown kind")

// Discovery returns the current seed addresses (host:port). Implementations
// may cache; an empty result is not an error.
type Discovery interface {
    Seeds(ctx context.Context) ([]string, error)
}

// Kind names a discovery backend.
type Kind string

const (
    KindStatic Kind = "static"
    KindFile   Kind = "file"
    KindDNS    Kind = "dns"
)

// Config selects and configures one backend.
type Config struct {
    Kind Kind `yaml:"kind"`
    // Seeds is a comma-separated list (static).
    Seeds string `yaml:"seeds"`
    // Names are hostnames or _service._proto.domain SRV names (dns).
    Names string `yaml:"names"`
    // Port completes A/AAAA answers (dns).
    Port int `yaml:"port"`
    // Path is a seed file or glob; Env, when set and non-empty in the
    // environment, overrides it (file).
    Path string `yaml:"path"`
    Env  string `yaml:"env"`
    // Refresh bounds how long file and dns results are cached.
    Refresh time.Duration `yaml:"refresh"`
}

// New builds the backend described by c. An empty Kind means static.
func New(c Config) (Discovery, error) {
    switch c.Kind {
    case "", KindStatic:
        return Static(ParseList(c.Seeds)...), nil
    case KindFile:
        return NewFile(c.Path, c.Env, c.Refresh), nil
    case KindDNS:
        return NewDNS(DNSOptions{Names: ParseList(c.Names), Port: c.Port, Refresh: c.Refresh}), nil
    default:
        return nil, fmt.Errorf("%w %q", ErrUnknownKind, c.Kind)
    }
}

// ParseList splits a comma-separated list, trimming blanks.
func ParseList(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}

// dedupSorted returns the distinct values of in, sorted.
func dedupSorted(in []string) []string {
    if len(in) == 0 { return nil }
    set := make(map[string]struct{}, len(in))
    out := make([]string, 0, len(in))
    for _, s := range in {
        if _, ok := set[s]; ok { continue }
        set[s] = struct{}{}
        out = append(out, s)
    }
    sort.Strings(out)
    return out
}

type static []string

// Static returns a Discovery that always yields seeds.
func Static(seeds ...string) Discovery {
    var cleaned []string
    for _, s := range seeds {
        if s = strings.TrimSpace(s); s != "" { cleaned = append(cleaned, s) }
    }
    return static(cleaned)
}

func (s static) Seeds(context.Context) ([]string, error) { return append([]string(nil), s...), nil }
