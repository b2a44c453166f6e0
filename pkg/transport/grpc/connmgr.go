package grpc

import (
    "context"
    "errors"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
)

var errConnManagerClosed = errors.New("grpc: connection manager closed")

// Dialer opens a client connection to target.
type Dialer func(ctx context.Context, target string) (*grpc.ClientConn, error)

// ConnManager caches one client connection per address and closes those left
// unreferenced for longer than its TTL. A remote wait holds its reference for
// the whole call, so a connection is never evicted under a blocked wait.
type ConnManager struct {
    ttl    time.Duration
    dialer Dialer

    mu     sync.Mutex
    conns  map[string]*managedConn
    closed bool
    stop   chan struct{}
}

type managedConn struct {
    cc       *grpc.ClientConn
    refs     int
    lastUsed time.Time
}

// NewConnManager creates a manager with the given idle TTL and dialer.
func NewConnManager(ttl time.Duration, dialer Dialer) *ConnManager {
    if ttl <= 0 { ttl = 30 * time.Second }
    m := &ConnManager{ttl: ttl, dialer: dialer, conns: make(map[string]*managedConn), stop: make(chan struct{})}
    go m.evictLoop()
    return m
}

// Get returns the connection for target, dialing it on first use, and a
// release func the caller must invoke when the call is done.
func (m *ConnManager) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc, ok, err := m.acquire(target); err != nil || ok {
        return cc, m.releaser(target), err
    }

    cc, err := m.dialer(ctx, target)
    if err != nil { return nil, func() {}, err }

    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed {
        _ = cc.Close()
        return nil, func() {}, errConnManagerClosed
    }
    if mc, ok := m.conns[target]; ok {
        // lost the race to a concurrent dial
        _ = cc.Close()
        mc.refs++
        mc.lastUsed = time.Now()
        obsmetrics.GRPCConnReuse.Inc()
        return mc.cc, m.releaser(target), nil
    }
    m.conns[target] = &managedConn{cc: cc, refs: 1, lastUsed: time.Now()}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, m.releaser(target), nil
}

func (m *ConnManager) acquire(target string) (*grpc.ClientConn, bool, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil, false, errConnManagerClosed }
    mc, ok := m.conns[target]
    if !ok { return nil, false, nil }
    mc.refs++
    mc.lastUsed = time.Now()
    return mc.cc, true, nil
}

func (m *ConnManager) releaser(target string) func() {
    var once sync.Once
    return func() {
        once.Do(func() {
            m.mu.Lock()
            defer m.mu.Unlock()
            if mc, ok := m.conns[target]; ok {
                if mc.refs > 0 { mc.refs-- }
                mc.lastUsed = time.Now()
            }
        })
    }
}

// Len returns the number of cached connections.
func (m *ConnManager) Len() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.conns)
}

// Close closes every cached connection and stops eviction. Later Gets fail.
func (m *ConnManager) Close() {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return }
    m.closed = true
    close(m.stop)
    for target, mc := range m.conns {
        _ = mc.cc.Close()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, target)
    }
}

func (m *ConnManager) evictLoop() {
    ticker := time.NewTicker(m.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-m.stop:
            return
        case now := <-ticker.C:
            m.evictIdle(now)
        }
    }
}

func (m *ConnManager) evictIdle(now time.Time) {
    cutoff := now.Add(-m.ttl)
    m.mu.Lock()
    defer m.mu.Unlock()
    for target, mc := range m.conns {
        if mc.refs > 0 || !mc.lastUsed.Before(cutoff) { continue }
        _ = mc.cc.Close()
        obsmetrics.GRPCConnEvictions.Inc()
        obsmetrics.GRPCConnActive.Dec()
        delete(m.conns, target)
    }
}
