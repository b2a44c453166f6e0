//go:build integration

package integration

import (
    "context"
    "errors"
    "io"
    "log"
    "testing"
    "time"

    "github.com/amirimatin/go-readiness/pkg/bootstrap"
    "github.com/amirimatin/go-readiness/pkg/discovery"
)

var errNotYet = errors.New("not yet")

// nodeConfig returns a loopback config on ephemeral ports joining seed.
func nodeConfig(id, roles, seed string) bootstrap.Config {
    cfg := bootstrap.DefaultConfig()
    cfg.NodeID = id
    cfg.Roles = roles
    cfg.MemBind = "127.0.0.1:0"
    cfg.MgmtAddr = "127.0.0.1:0"
    cfg.Discovery = discovery.Config{Kind: discovery.KindStatic, Seeds: seed}
    cfg.RejoinInterval = 500 * time.Millisecond
    cfg.HealthInterval = 100 * time.Millisecond
    cfg.Logger = log.New(io.Discard, "", 0)
    return cfg
}

func startNode(ctx context.Context, t *testing.T, cfg bootstrap.Config) *bootstrap.Node {
    t.Helper()
    n, err := bootstrap.Run(ctx, cfg)
    if err != nil { t.Fatalf("%s: %v", cfg.NodeID, err) }
    t.Cleanup(func() { _ = n.Stop(context.Background()) })
    return n
}

func waitUntil(t *testing.T, d time.Duration, fn func() error) {
    t.Helper()
    deadline := time.Now().Add(d)
    for {
        err := fn()
        if err == nil { return }
        if time.Now().After(deadline) { t.Fatalf("condition not met after %s: %v", d, err) }
        time.Sleep(100 * time.Millisecond)
    }
}
