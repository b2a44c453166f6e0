package memberlist

import (
    "context"
    "errors"
    "fmt"
    "log"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"

    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
    base "github.com/amirimatin/go-readiness/pkg/membership"
)

var errNotStarted = errors.New("memberlist: not started")

// eventBuffer bounds how many membership changes may queue before the gossip
// callbacks start dropping them.
const eventBuffer = 64

// Options configures a gossip membership node.
type Options struct {
    NodeID string
    // Bind is host:port; port 0 picks a free port.
    Bind string
    // Advertise is the host:port peers dial. Empty derives it from Bind.
    Advertise string
    // Roles are gossiped under membership.MetaRoles.
    Roles base.RoleSet
    // Meta holds additional keys, such as the management address.
    Meta   map[string]string
    Logger *log.Logger

    // Failure detector tuning. Zero keeps the LAN defaults.
    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

// Node is a base.Membership backed by hashicorp/memberlist whose metadata
// carries the node's roles.
type Node struct {
    opts Options
    meta *metaDelegate

    mu sync.RWMutex
    ml *memberlist.Memberlist

    evMu   sync.Mutex
    events chan base.Event
    closed bool
}

// New validates opts. The node joins no cluster until Start.
func New(opts Options) (*Node, error) {
    if opts.NodeID == "" { return nil, fmt.Errorf("memberlist: empty NodeID") }
    if opts.Bind == "" { return nil, fmt.Errorf("memberlist: empty Bind address") }
    if opts.Logger == nil { opts.Logger = log.Default() }
    n := &Node{opts: opts, meta: &metaDelegate{}, events: make(chan base.Event, eventBuffer)}
    if err := n.meta.set(withRoles(opts.Meta, opts.Roles)); err != nil { return nil, err }
    return n, nil
}

func (n *Node) lanConfig() (*memberlist.Config, error) {
    cfg := memberlist.DefaultLANConfig()
    cfg.Name = n.opts.NodeID
    cfg.Logger = n.opts.Logger
    cfg.Events = &eventDelegate{node: n}
    cfg.Delegate = n.meta

    var err error
    if cfg.BindAddr, cfg.BindPort, err = splitHostPort(n.opts.Bind); err != nil { return nil, err }
    if n.opts.Advertise != "" {
        if cfg.AdvertiseAddr, cfg.AdvertisePort, err = splitHostPort(n.opts.Advertise); err != nil { return nil, err }
    }
    if n.opts.ProbeInterval > 0 { cfg.ProbeInterval = n.opts.ProbeInterval }
    if n.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = n.opts.ProbeTimeout }
    if n.opts.SuspicionMult > 0 { cfg.SuspicionMult = n.opts.SuspicionMult }
    return cfg, nil
}

// Start creates the memberlist instance. The node shuts down when ctx ends.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.ml != nil { return nil }
    cfg, err := n.lanConfig()
    if err != nil { return err }
    ml, err := memberlist.Create(cfg)
    if err != nil { return fmt.Errorf("memberlist: create: %w", err) }
    n.ml = ml
    go func() {
        <-ctx.Done()
        _ = n.Stop()
    }()
    return nil
}

func (n *Node) list() *memberlist.Memberlist {
    n.mu.RLock()
    defer n.mu.RUnlock()
    return n.ml
}

func (n *Node) Join(seeds []string) error {
    ml := n.list()
    if ml == nil { return errNotStarted }
    if len(seeds) == 0 { return nil }
    _, err := ml.Join(seeds)
    return err
}

func (n *Node) Local() base.MemberInfo {
    ml := n.list()
    if ml == nil { return base.MemberInfo{} }
    return toMember(ml.LocalNode())
}

// Members lists every node memberlist currently considers alive, including
// the local one.
func (n *Node) Members() []base.MemberInfo {
    ml := n.list()
    if ml == nil { return nil }
    nodes := ml.Members()
    out := make([]base.MemberInfo, len(nodes))
    for i, m := range nodes { out[i] = toMember(m) }
    return out
}

// SetRoles replaces the advertised roles and pushes the new metadata to peers
// within timeout.
func (n *Node) SetRoles(roles base.RoleSet, timeout time.Duration) error {
    if err := n.meta.set(withRoles(n.opts.Meta, roles)); err != nil { return err }
    ml := n.list()
    if ml == nil { return nil }
    return ml.UpdateNode(timeout)
}

func (n *Node) Events() <-chan base.Event { return n.events }

// Leave broadcasts an intent to leave, waiting up to a second for it to
// propagate. It is best effort.
func (n *Node) Leave() error {
    ml := n.list()
    if ml == nil { return nil }
    if err := ml.Leave(time.Second); err != nil {
        logutil.Warnf(n.opts.Logger, "memberlist: leave broadcast: %v", err)
    }
    return nil
}

// Stop shuts memberlist down and closes the event channel. Idempotent.
func (n *Node) Stop() error {
    n.mu.Lock()
    ml := n.ml
    n.ml = nil
    n.mu.Unlock()
    var err error
    if ml != nil { err = ml.Shutdown() }

    n.evMu.Lock()
    defer n.evMu.Unlock()
    if !n.closed {
        n.closed = true
        close(n.events)
    }
    return err
}

// publish never blocks the gossip goroutine; a full buffer drops the event.
func (n *Node) publish(e base.Event) {
    n.evMu.Lock()
    defer n.evMu.Unlock()
    if n.closed { return }
    select {
    case n.events <- e:
    default:
        logutil.Warnf(n.opts.Logger, "memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toMember(m *memberlist.Node) base.MemberInfo {
    return base.MemberInfo{
        ID:   m.Name,
        Addr: net.JoinHostPort(m.Addr.String(), strconv.Itoa(int(m.Port))),
        Meta: decodeMeta(m.Meta),
    }
}

func splitHostPort(addr string) (string, int, error) {
    host, port, err := net.SplitHostPort(addr)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", addr, err) }
    p, err := strconv.Atoi(port)
    if err != nil || p < 0 || p > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port %q", port) }
    return host, p, nil
}

var _ base.Membership = (*Node)(nil)
