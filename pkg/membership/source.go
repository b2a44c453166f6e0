package membership

// Subscription identifies a registered snapshot listener.
type Subscription uint64

// Source delivers membership snapshots. Implementations publish from a single
// writer so listeners observe snapshots in the order they were produced.
type Source interface {
    Subscribe(fn func(Snapshot)) Subscription
    Unsubscribe(sub Subscription)
    CurrentSnapshot() Snapshot
}
