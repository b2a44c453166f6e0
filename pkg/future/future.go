package future

import (
    "context"
    "errors"
    "sync"
)

// ErrCancelled is reported by Err for handles resolved through Cancel. Causes
// given to CancelWithCause should wrap it so callers can match with errors.Is.
var ErrCancelled = errors.New("future: cancelled")

// State is the resolution state of a Future.
type State int

const (
    Pending State = iota
    Succeeded
    Failed
    Cancelled
)

func (s State) String() string {
    switch s {
    case Pending:
        return "pending"
    case Succeeded:
        return "succeeded"
    case Failed:
        return "failed"
    case Cancelled:
        return "cancelled"
    default:
        return "unknown"
    }
}

// Future is a single-assignment completion handle. It moves from Pending to
// exactly one terminal state; later resolution attempts are ignored.
type Future struct {
    mu        sync.Mutex
    state     State
    err       error
    done      chan struct{}
    listeners []func()
}

// New returns an unresolved handle.
func New() *Future {
    return &Future{done: make(chan struct{})}
}

// Completed returns a handle that has already succeeded.
func Completed() *Future {
    f := New()
    f.Succeed()
    return f
}

// Succeed resolves the handle successfully. It reports whether this call
// performed the transition.
func (f *Future) Succeed() bool { return f.complete(Succeeded, nil) }

// Fail resolves the handle with err. A nil err is replaced by a generic error
// so that Failed handles always carry a reason.
func (f *Future) Fail(err error) bool {
    if err == nil { err = errors.New("future: failed") }
    return f.complete(Failed, err)
}

// Cancel resolves the handle as Cancelled with ErrCancelled.
func (f *Future) Cancel() bool { return f.complete(Cancelled, ErrCancelled) }

// CancelWithCause resolves the handle as Cancelled, recording cause as its
// error. Causes that do not wrap ErrCancelled are wrapped.
func (f *Future) CancelWithCause(cause error) bool {
    switch {
    case cause == nil:
        cause = ErrCancelled
    case !errors.Is(cause, ErrCancelled):
        cause = &cancelError{cause: cause}
    }
    return f.complete(Cancelled, cause)
}

func (f *Future) complete(s State, err error) bool {
    f.mu.Lock()
    if f.state != Pending {
        f.mu.Unlock()
        return false
    }
    f.state = s
    f.err = err
    ls := f.listeners
    f.listeners = nil
    close(f.done)
    f.mu.Unlock()

    for _, fn := range ls {
        fn()
    }
    return true
}

// AddListener registers fn to run once after resolution. When the handle is
// already resolved fn runs immediately on the calling goroutine; otherwise it
// runs on the goroutine that resolves the handle.
func (f *Future) AddListener(fn func()) {
    if fn == nil { return }
    f.mu.Lock()
    if f.state == Pending {
        f.listeners = append(f.listeners, fn)
        f.mu.Unlock()
        return
    }
    f.mu.Unlock()
    fn()
}

// Done is closed once the handle leaves Pending.
func (f *Future) Done() <-chan struct{} { return f.done }

// State returns the current state; it never blocks on resolution.
func (f *Future) State() State {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.state
}

// IsDone reports whether the handle reached a terminal state.
func (f *Future) IsDone() bool { return f.State() != Pending }

// Err returns the failure or cancellation reason, or nil when the handle is
// pending or succeeded.
func (f *Future) Err() error {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.err
}

// Wait blocks until the handle resolves or ctx is done. It returns the
// handle's error (nil on success) or ctx.Err(). An expired ctx leaves the
// handle untouched.
func (f *Future) Wait(ctx context.Context) error {
    select {
    case <-f.done:
        return f.Err()
    case <-ctx.Done():
        return ctx.Err()
    }
}

type cancelError struct{ cause error }

func (e *cancelError) Error() string { return ErrCancelled.Error() + ": " + e.cause.Error() }

func (e *cancelError) Unwrap() []error { return []error{ErrCancelled, e.cause} }
