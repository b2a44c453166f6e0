package scheduler

import (
    "sort"
    "sync"
    "time"
)

// Manual is a Scheduler driven by a virtual clock. Nothing runs until Advance
// moves the clock past an action's due time. It is meant for tests.
type Manual struct {
    mu      sync.Mutex
    now     time.Time
    seq     uint64
    tasks   []*manualTask
    stopped bool
}

type manualTask struct {
    m     *Manual
    due   time.Time
    seq   uint64
    fn    func()
    state int32
}

// NewManual returns a Manual scheduler whose clock starts at the Unix epoch.
func NewManual() *Manual { return &Manual{now: time.Unix(0, 0)} }

func (m *Manual) Schedule(delay time.Duration, fn func()) Task {
    m.mu.Lock()
    defer m.mu.Unlock()
    if delay < 0 { delay = 0 }
    m.seq++
    t := &manualTask{m: m, due: m.now.Add(delay), seq: m.seq, fn: fn}
    if m.stopped {
        t.state = taskCancelled
        return t
    }
    m.tasks = append(m.tasks, t)
    return t
}

func (t *manualTask) Cancel() bool {
    t.m.mu.Lock()
    defer t.m.mu.Unlock()
    if t.state != taskScheduled { return false }
    t.state = taskCancelled
    t.m.remove(t)
    return true
}

func (m *Manual) remove(t *manualTask) {
    for i, x := range m.tasks {
        if x == t {
            m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
            return
        }
    }
}

// Advance moves the clock forward by d and runs every action that became due,
// in due-time order, on the calling goroutine. Actions scheduled by a running
// action are also run when they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
    m.mu.Lock()
    target := m.now.Add(d)
    m.mu.Unlock()
    for {
        m.mu.Lock()
        if m.stopped {
            m.now = target
            m.mu.Unlock()
            return
        }
        sort.Slice(m.tasks, func(i, j int) bool {
            if m.tasks[i].due.Equal(m.tasks[j].due) { return m.tasks[i].seq < m.tasks[j].seq }
            return m.tasks[i].due.Before(m.tasks[j].due)
        })
        if len(m.tasks) == 0 || m.tasks[0].due.After(target) {
            m.now = target
            m.mu.Unlock()
            return
        }
        t := m.tasks[0]
        m.tasks = m.tasks[1:]
        t.state = taskRunning
        if t.due.After(m.now) { m.now = t.due }
        m.mu.Unlock()
        t.fn()
    }
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.now
}

// Pending returns the number of actions still waiting to run.
func (m *Manual) Pending() int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return len(m.tasks)
}

func (m *Manual) Stop() {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.stopped { return }
    m.stopped = true
    for _, t := range m.tasks {
        t.state = taskCancelled
    }
    m.tasks = nil
}

var (
    _ Scheduler = (*Manual)(nil)
    _ Scheduler = (*single)(nil)
)
