package membership

import "sync"

// Broadcaster keeps the latest snapshot and fans it out to subscribers. It
// implements Source; embed it and call Publish from the producing side.
type Broadcaster struct {
    pub     sync.Mutex // serializes Publish so listeners see snapshots in order
    mu      sync.Mutex
    next    Subscription
    subs    map[Subscription]func(Snapshot)
    current Snapshot
}

func (b *Broadcaster) Subscribe(fn func(Snapshot)) Subscription {
    b.mu.Lock()
    defer b.mu.Unlock()
    if b.subs == nil { b.subs = make(map[Subscription]func(Snapshot)) }
    b.next++
    b.subs[b.next] = fn
    return b.next
}

func (b *Broadcaster) Unsubscribe(sub Subscription) {
    b.mu.Lock()
    if b.subs != nil { delete(b.subs, sub) }
    b.mu.Unlock()
}

func (b *Broadcaster) CurrentSnapshot() Snapshot {
    b.mu.Lock()
    defer b.mu.Unlock()
    return b.current
}

// Publish stores s as the current snapshot and calls every subscriber on the
// calling goroutine. Listeners must not call Publish themselves.
func (b *Broadcaster) Publish(s Snapshot) {
    b.pub.Lock()
    defer b.pub.Unlock()
    b.mu.Lock()
    b.current = s
    fns := make([]func(Snapshot), 0, len(b.subs))
    for _, fn := range b.subs { fns = append(fns, fn) }
    b.mu.Unlock()
    for _, fn := range fns {
        fn(s)
    }
}

var _ Source = (*Broadcaster)(nil)
