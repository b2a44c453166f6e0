package bootstrap

import (
    "context"
    "crypto/tls"
    "fmt"
    "log"
    "sync"
    "time"

    "github.com/google/uuid"
    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-readiness/pkg/discovery"
    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
    "github.com/amirimatin/go-readiness/pkg/membership"
    ml "github.com/amirimatin/go-readiness/pkg/membership/memberlist"
    "github.com/amirimatin/go-readiness/pkg/monitor"
    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
    "github.com/amirimatin/go-readiness/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-readiness/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-readiness/pkg/transport/httpjson"
)

// MetaMgmt is the member metadata key advertising the management address.
const MetaMgmt = "mgmt"

// Node is an assembled readiness node: gossip membership feeding a monitor,
// exposed through a management server.
type Node struct {
    cfg    Config
    logger *log.Logger

    mem  membership.Membership
    disc discovery.Discovery
    srv  transport.RPCServer

    mu      sync.Mutex
    watcher *membership.Watcher
    mon     *monitor.Monitor
    cancel  context.CancelFunc
    loops   *errgroup.Group
    running bool
}

// Build assembles a Node from cfg without starting it.
func Build(cfg Config) (*Node, error) {
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.NodeID == "" { cfg.NodeID = uuid.NewString() }
    if cfg.MgmtProto == "" { cfg.MgmtProto = "http" }
    if err := cfg.Validate(); err != nil { return nil, err }
    roles, _ := cfg.RoleSet()

    disc, err := discovery.New(cfg.Discovery)
    if err != nil { return nil, err }

    mem, err := ml.New(ml.Options{
        NodeID:    cfg.NodeID,
        Bind:      cfg.MemBind,
        Advertise: cfg.MemAdv,
        Roles:     roles,
        Meta:      map[string]string{MetaMgmt: cfg.MgmtAddr},
        Logger:    cfg.Logger,
    })
    if err != nil { return nil, err }

    srvTLS, err := cfg.TLS.Server()
    if err != nil { return nil, err }
    var srv transport.RPCServer
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        srv = s
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, cfg.Logger)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        srv = s
    }
    return &Node{cfg: cfg, logger: cfg.Logger, mem: mem, disc: disc, srv: srv}, nil
}

// NewClient returns the management client matching cfg's protocol and TLS
// settings.
func NewClient(cfg Config, timeout time.Duration) (transport.RPCClient, error) {
    cliTLS, err := cfg.TLS.Client()
    if err != nil { return nil, err }
    return newClient(cfg.MgmtProto, cliTLS, timeout), nil
}

func newClient(proto string, cliTLS *tls.Config, timeout time.Duration) transport.RPCClient {
    if proto == "grpc" {
        c := mgmtgrpc.NewClient(timeout)
        if cliTLS != nil { c.UseTLS(cliTLS) }
        return c
    }
    c := httpjson.NewClient(timeout)
    if cliTLS != nil { c.UseTLS(cliTLS) }
    return c
}

// Run builds and starts a node. The caller must call Stop when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    n, err := Build(cfg)
    if err != nil { return nil, err }
    if err := n.Start(ctx); err != nil { return nil, err }
    return n, nil
}

func (n *Node) ID() string { return n.cfg.NodeID }

// Monitor returns the running monitor, or nil before Start.
func (n *Node) Monitor() *monitor.Monitor {
    n.mu.Lock()
    defer n.mu.Unlock()
    return n.mon
}

// MgmtAddr returns the bound management address.
func (n *Node) MgmtAddr() string { return n.srv.Addr() }

// GossipAddr returns the local membership address, usable as a seed.
func (n *Node) GossipAddr() string { return n.mem.Local().Addr }

// Start joins the cluster, starts the monitor and serves the management
// endpoints. A failed join is logged and retried by the rejoin loop.
func (n *Node) Start(ctx context.Context) error {
    n.mu.Lock()
    defer n.mu.Unlock()
    if n.running { return nil }

    ctx, cancel := context.WithCancel(ctx)
    if err := n.mem.Start(ctx); err != nil {
        cancel()
        return fmt.Errorf("bootstrap: start membership: %w", err)
    }
    n.join(ctx)

    watcher := membership.Watch(ctx, n.mem, n.logger)
    mon, err := monitor.New(monitor.Options{Config: n.cfg.Monitor, Source: watcher, Logger: n.logger})
    if err != nil {
        watcher.Close()
        _ = n.mem.Stop()
        cancel()
        return err
    }
    mon.Start()
    if err := n.srv.Start(ctx, ReadinessFunc(n.cfg.NodeID, mon), WaitFunc(mon)); err != nil {
        mon.Stop()
        watcher.Close()
        _ = n.mem.Stop()
        cancel()
        return fmt.Errorf("bootstrap: start management server: %w", err)
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { n.refreshLoop(gctx, mon); return nil })
    if n.cfg.RejoinInterval > 0 {
        g.Go(func() error { n.rejoinLoop(gctx); return nil })
    }
    n.watcher, n.mon, n.cancel, n.loops, n.running = watcher, mon, cancel, g, true
    logutil.Infof(n.logger, "readiness node %s started: gossip=%s mgmt=%s://%s", n.cfg.NodeID, n.GossipAddr(), n.cfg.MgmtProto, n.srv.Addr())
    return nil
}

func (n *Node) join(ctx context.Context) {
    seeds, err := n.disc.Seeds(ctx)
    if err != nil {
        logutil.Warnf(n.logger, "discovery failed: %v", err)
        return
    }
    if len(seeds) == 0 { return }
    if err := n.mem.Join(seeds); err != nil {
        logutil.Warnf(n.logger, "join %v failed: %v", seeds, err)
    }
}

// rejoinLoop retries the seeds while the node sees nobody but itself.
func (n *Node) rejoinLoop(ctx context.Context) {
    t := time.NewTicker(n.cfg.RejoinInterval)
    defer t.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
            if len(n.mem.Members()) <= 1 { n.join(ctx) }
        }
    }
}

// refreshLoop keeps the member gauge and the grpc health status current.
func (n *Node) refreshLoop(ctx context.Context, mon *monitor.Monitor) {
    interval := n.cfg.HealthInterval
    if interval <= 0 { interval = time.Second }
    t := time.NewTicker(interval)
    defer t.Stop()
    for {
        obsmetrics.ClusterMembers.Set(float64(len(n.mem.Members())))
        if hs, ok := n.srv.(interface{ SetServing(bool) }); ok {
            hs.SetServing(mon.HasRequiredWorkers())
        }
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
    }
}

// Stop cancels pending waits, then shuts the management server and the
// membership down concurrently. It is idempotent.
func (n *Node) Stop(ctx context.Context) error {
    n.mu.Lock()
    if !n.running {
        n.mu.Unlock()
        return nil
    }
    n.running = false
    watcher, mon, cancel, loops := n.watcher, n.mon, n.cancel, n.loops
    n.mu.Unlock()

    // resolve waits first so /wait callers get an answer before the server goes
    mon.Stop()

    var g errgroup.Group
    g.Go(func() error { return n.srv.Stop(ctx) })
    g.Go(func() error {
        watcher.Close()
        if err := n.mem.Leave(); err != nil { logutil.Warnf(n.logger, "leave: %v", err) }
        return n.mem.Stop()
    })
    err := g.Wait()
    cancel()
    _ = loops.Wait()
    logutil.Infof(n.logger, "readiness node %s stopped", n.cfg.NodeID)
    return err
}
