package memberlist

import (
    "context"
    "log"
    "testing"
    "time"

    base "github.com/amirimatin/go-readiness/pkg/membership"
)

func TestNew_Validation(t *testing.T) {
    if _, err := New(Options{Bind: "127.0.0.1:0"}); err == nil {
        t.Fatalf("expected error for empty NodeID")
    }
    if _, err := New(Options{NodeID: "n1"}); err == nil {
        t.Fatalf("expected error for empty Bind")
    }
    big := map[string]string{"blob": string(make([]byte, 600))}
    if _, err := New(Options{NodeID: "n1", Bind: "127.0.0.1:0", Meta: big}); err == nil {
        t.Fatalf("expected error for oversized metadata")
    }
}

func TestSplitHostPort(t *testing.T) {
    if h, p, err := splitHostPort("127.0.0.1:7946"); err != nil || h != "127.0.0.1" || p != 7946 {
        t.Fatalf("got %q %d %v", h, p, err)
    }
    for _, bad := range []string{"nohost", "h:abc", "h:70000"} {
        if _, _, err := splitHostPort(bad); err == nil {
            t.Fatalf("expected error for %q", bad)
        }
    }
}

func TestMemberlist_StartLocalAdvertisesRoles(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    m := startNode(t, ctx, "t1", base.NewRoleSet(base.RoleCoordinator, base.RoleResourceManager))
    defer m.Stop()

    local := m.Local()
    if local.ID != "t1" { t.Fatalf("local id = %q, want t1", local.ID) }
    rs := local.Roles()
    if !rs.Has(base.RoleCoordinator) || !rs.Has(base.RoleResourceManager) || rs.Has(base.RoleCoordinatorSidecar) {
        t.Fatalf("unexpected local roles: %s", rs)
    }
}

func TestMemberlist_MultiNodeSnapshot(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
    defer cancel()

    n1 := startNode(t, ctx, "n1", base.NewRoleSet(base.RoleCoordinator))
    defer n1.Stop()
    addr1 := n1.Local().Addr

    n2 := startNode(t, ctx, "n2", base.NewRoleSet(base.RoleWorker))
    defer n2.Stop()
    if err := n2.Join([]string{addr1}); err != nil { t.Fatalf("n2 join: %v", err) }

    n3 := startNode(t, ctx, "n3", base.NewRoleSet(base.RoleWorker))
    defer n3.Stop()
    if err := n3.Join([]string{addr1}); err != nil { t.Fatalf("n3 join: %v", err) }

    w := base.Watch(ctx, n1, log.Default())
    defer w.Close()

    awaitSnapshot(t, w, 10*time.Second, func(s base.Snapshot) bool {
        return s.Count(base.RoleWorker) == 3 && s.Count(base.RoleCoordinator) == 1 && s.DedicatedWorkers() == 2
    })

    // n3 turns into a sidecar; metadata update must reach n1's view
    if err := n3.SetRoles(base.NewRoleSet(base.RoleCoordinatorSidecar), time.Second); err != nil {
        t.Fatalf("set roles: %v", err)
    }
    awaitSnapshot(t, w, 10*time.Second, func(s base.Snapshot) bool {
        return s.Count(base.RoleCoordinatorSidecar) == 1
    })

    _ = n2.Leave()
    _ = n2.Stop()
    awaitSnapshot(t, w, 10*time.Second, func(s base.Snapshot) bool {
        return s.Count(base.RoleWorker) == 2
    })
}

func TestStop_ClosesEventsOnce(t *testing.T) {
    m, err := New(Options{NodeID: "x", Bind: "127.0.0.1:0"})
    if err != nil { t.Fatalf("new: %v", err) }
    if err := m.Stop(); err != nil { t.Fatalf("stop: %v", err) }
    if err := m.Stop(); err != nil { t.Fatalf("second stop: %v", err) }
    if _, ok := <-m.Events(); ok { t.Fatalf("expected closed events channel") }
    // publishing after close must not panic
    m.publish(base.Event{Type: base.EventJoin})
}

func startNode(t *testing.T, ctx context.Context, id string, roles base.RoleSet) *Node {
    t.Helper()
    m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Roles: roles, Logger: log.Default(), ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
    if err != nil { t.Fatalf("new %s: %v", id, err) }
    if err := m.Start(ctx); err != nil { t.Fatalf("start %s: %v", id, err) }
    if m.Local().Addr == "" { t.Fatalf("local addr empty for %s", id) }
    return m
}

func awaitSnapshot(t *testing.T, src base.Source, timeout time.Duration, ok func(base.Snapshot) bool) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for {
        s := src.CurrentSnapshot()
        if ok(s) { return }
        if time.Now().After(deadline) {
            t.Fatalf("snapshot timeout: active=%v coordinators=%v sidecars=%v", s.ActiveNodes(), s.ActiveCoordinators(), s.ActiveCoordinatorSidecars())
        }
        time.Sleep(100 * time.Millisecond)
    }
}
