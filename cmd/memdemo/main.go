package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "os/signal"
    "syscall"
    "time"

    "github.com/amirimatin/go-readiness/pkg/discovery"
    base "github.com/amirimatin/go-readiness/pkg/membership"
    ml "github.com/amirimatin/go-readiness/pkg/membership/memberlist"
)

// memdemo joins a gossip cluster with the given roles and prints every
// membership change together with the resulting per-role counts.
func main() {
    var (
        id        = flag.String("id", "node-1", "node id")
        bind      = flag.String("bind", ":7946", "bind host:port")
        advertise = flag.String("advertise", "", "advertise host:port (optional)")
        roles     = flag.String("roles", "worker", "comma-separated roles")
        joinCSV   = flag.String("join", "", "comma-separated seeds (host:port)")
    )
    flag.Parse()

    rs, err := base.ParseRoles(*roles)
    if err != nil { log.Fatal(err) }

    ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer cancel()

    m, err := ml.New(ml.Options{NodeID: *id, Bind: *bind, Advertise: *advertise, Roles: rs, Logger: log.Default()})
    if err != nil { log.Fatal(err) }
    if err := m.Start(ctx); err != nil { log.Fatal(err) }

    if seeds := discovery.ParseList(*joinCSV); len(seeds) > 0 {
        if err := m.Join(seeds); err != nil { log.Printf("join error: %v", err) }
    }

    fmt.Println("memdemo started. Press Ctrl+C to exit.")
    go func(evch <-chan base.Event) {
        for e := range evch {
            s := base.SnapshotFromMembers(m.Members())
            fmt.Printf("event: %-6s id=%s roles=%s at=%s | workers=%d coordinators=%d resource_managers=%d sidecars=%d\n",
                e.Type, e.Member.ID, e.Member.Roles(), e.At.Format(time.RFC3339),
                s.Count(base.RoleWorker), s.Count(base.RoleCoordinator), s.Count(base.RoleResourceManager), s.Count(base.RoleCoordinatorSidecar))
        }
    }(m.Events())

    <-ctx.Done()
    _ = m.Leave()
    _ = m.Stop()
}
