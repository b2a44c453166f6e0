package membership

import (
    "context"
    "log"
    "sync"

    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
)

// Watcher turns a Membership into a Source. It is the only consumer of the
// membership event channel and republishes a snapshot of Members() after
// every event, so snapshots are produced by a single writer.
type Watcher struct {
    Broadcaster
    mem    Membership
    logger *log.Logger
    done   chan struct{}
    once   sync.Once
    cancel context.CancelFunc
}

// Watch publishes the current member view and starts following mem's events
// until ctx is done, the event channel closes, or Close is called. mem must
// already be started.
func Watch(ctx context.Context, mem Membership, logger *log.Logger) *Watcher {
    if logger == nil { logger = log.Default() }
    ctx, cancel := context.WithCancel(ctx)
    w := &Watcher{mem: mem, logger: logger, done: make(chan struct{}), cancel: cancel}
    w.Publish(SnapshotFromMembers(mem.Members()))
    go w.loop(ctx)
    return w
}

func (w *Watcher) loop(ctx context.Context) {
    defer close(w.done)
    evch := w.mem.Events()
    for {
        select {
        case <-ctx.Done():
            return
        case e, ok := <-evch:
            if !ok {
                logutil.Infof(w.logger, "membership event stream closed; watcher stopping")
                return
            }
            if e.Type == EventJoin || e.Type == EventUpdate {
                if _, err := ParseRoles(e.Member.Meta[MetaRoles]); err != nil {
                    logutil.Warnf(w.logger, "member %s advertises invalid roles: %v", e.Member.ID, err)
                }
            }
            w.Publish(SnapshotFromMembers(w.mem.Members()))
        }
    }
}

// Close stops following events and waits for the loop to exit.
func (w *Watcher) Close() {
    w.once.Do(w.cancel)
    <-w.done
}

var _ Source = (*Watcher)(nil)
