package scheduler

import (
    "sync"
    "sync/atomic"
    "time"
)

// Task is a handle to a scheduled one-shot action.
type Task interface {
    // Cancel prevents the action from running. It reports false when the
    // action already started, already ran or was cancelled before.
    Cancel() bool
}

// Scheduler runs delayed one-shot actions.
type Scheduler interface {
    Schedule(delay time.Duration, fn func()) Task
    // Stop discards every pending action. Actions scheduled afterwards never run.
    Stop()
}

const (
    taskScheduled int32 = iota
    taskRunning
    taskCancelled
)

// task state moves scheduled -> running or scheduled -> cancelled, never back.
type task struct {
    state atomic.Int32
    fn    func()
    timer *time.Timer
    owner *single
}

func (t *task) Cancel() bool {
    if !t.state.CompareAndSwap(taskScheduled, taskCancelled) { return false }
    if t.timer != nil { t.timer.Stop() }
    if t.owner != nil { t.owner.forget(t) }
    return true
}

// single executes every fired action on one dedicated goroutine, so actions
// never run concurrently with each other.
type single struct {
    mu      sync.Mutex
    queue   []*task
    pending map[*task]struct{}
    wake    chan struct{}
    quit    chan struct{}
    stopped bool
}

// New starts a scheduler backed by one worker goroutine.
func New() Scheduler {
    s := &single{
        pending: make(map[*task]struct{}),
        wake:    make(chan struct{}, 1),
        quit:    make(chan struct{}),
    }
    go s.loop()
    return s
}

func (s *single) Schedule(delay time.Duration, fn func()) Task {
    t := &task{fn: fn, owner: s}
    s.mu.Lock()
    if s.stopped {
        s.mu.Unlock()
        t.state.Store(taskCancelled)
        return t
    }
    s.pending[t] = struct{}{}
    if delay < 0 { delay = 0 }
    t.timer = time.AfterFunc(delay, func() { s.enqueue(t) })
    s.mu.Unlock()
    return t
}

func (s *single) enqueue(t *task) {
    s.mu.Lock()
    if s.stopped {
        s.mu.Unlock()
        return
    }
    delete(s.pending, t)
    s.queue = append(s.queue, t)
    s.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

func (s *single) forget(t *task) {
    s.mu.Lock()
    delete(s.pending, t)
    s.mu.Unlock()
}

func (s *single) loop() {
    for {
        select {
        case <-s.quit:
            return
        case <-s.wake:
        }
        for {
            s.mu.Lock()
            if s.stopped || len(s.queue) == 0 {
                s.mu.Unlock()
                break
            }
            t := s.queue[0]
            s.queue[0] = nil
            s.queue = s.queue[1:]
            s.mu.Unlock()
            if t.state.CompareAndSwap(taskScheduled, taskRunning) {
                t.fn()
            }
        }
    }
}

func (s *single) Stop() {
    s.mu.Lock()
    if s.stopped {
        s.mu.Unlock()
        return
    }
    s.stopped = true
    pending := s.pending
    queued := s.queue
    s.pending = nil
    s.queue = nil
    close(s.quit)
    s.mu.Unlock()

    for t := range pending {
        if t.state.CompareAndSwap(taskScheduled, taskCancelled) && t.timer != nil {
            t.timer.Stop()
        }
    }
    for _, t := range queued {
        t.state.CompareAndSwap(taskScheduled, taskCancelled)
    }
}
