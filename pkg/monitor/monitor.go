package monitor

import (
    "errors"
    "log"
    "sync"
    "time"

    "github.com/amirimatin/go-readiness/pkg/future"
    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
    "github.com/amirimatin/go-readiness/pkg/membership"
    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
    "github.com/amirimatin/go-readiness/pkg/scheduler"
)

// ErrNoWait is returned by Wait for roles that only support a synchronous check.
var ErrNoWait = errors.New("monitor: role has no wait operation")

// pendingWait is a registered wait. It sits in its role's queue exactly while
// its handle is unresolved.
type pendingWait struct {
    role       membership.NodeRole
    required   int
    maxWait    time.Duration
    code       ErrorCode
    registered time.Time
    f          *future.Future
    task       scheduler.Task // guarded by Monitor.mu; nil until scheduled
}

// state is everything guarded by Monitor.mu.
type state struct {
    counts     [numRoles]int
    waits      [numRoles][]*pendingWait
    sub        membership.Subscription
    subscribed bool
    started    bool
    stopped    bool
}

// numRoles sizes the per-role arrays; a role's slot is its enum value.
const numRoles = 4

// Monitor tracks active node counts per role and resolves waits for minimum
// cluster sizes. All methods are safe for concurrent use and none of them
// block on cluster changes.
type Monitor struct {
    cfg    Config
    src    membership.Source
    sched  scheduler.Scheduler
    logger *log.Logger

    mu sync.Mutex
    st state
}

// New validates opts and returns a Monitor that is not yet subscribed to its
// source; call Start.
func New(opts Options) (*Monitor, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Scheduler == nil {
        opts.Scheduler = scheduler.New()
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    obsmetrics.Register()
    return &Monitor{cfg: opts.Config, src: opts.Source, sched: opts.Scheduler, logger: opts.Logger}, nil
}

// Config returns the thresholds the monitor was built with.
func (m *Monitor) Config() Config { return m.cfg }

// Start subscribes to the membership source and applies its current snapshot.
// Calling Start again, or after Stop, does nothing. No lock is held while
// handles resolve, so listeners may call back into the monitor, Stop included.
func (m *Monitor) Start() {
    m.mu.Lock()
    if m.st.started || m.st.stopped {
        m.mu.Unlock()
        return
    }
    m.st.started = true
    m.mu.Unlock()

    sub := m.src.Subscribe(m.applySnapshot)
    m.mu.Lock()
    if m.st.stopped {
        // Stop ran while subscribing and never saw sub.
        m.mu.Unlock()
        m.src.Unsubscribe(sub)
        return
    }
    m.st.sub, m.st.subscribed = sub, true
    m.mu.Unlock()
    m.applySnapshot(m.src.CurrentSnapshot())
    logutil.Infof(m.logger, "readiness monitor started: %s", m.Status())
}

// Stop unsubscribes from the source, stops the scheduler and cancels every
// pending wait with ErrShutdown. It is idempotent and safe to call from a
// handle listener.
func (m *Monitor) Stop() {
    m.mu.Lock()
    if m.st.stopped {
        m.mu.Unlock()
        return
    }
    m.st.stopped = true
    sub, subscribed := m.st.sub, m.st.subscribed
    m.st.subscribed = false
    var outstanding []*pendingWait
    for i := range m.st.waits {
        outstanding = append(outstanding, m.st.waits[i]...)
        m.st.waits[i] = nil
    }
    m.mu.Unlock()

    if subscribed {
        m.src.Unsubscribe(sub)
    }
    m.sched.Stop()
    for _, w := range outstanding {
        w.f.CancelWithCause(ErrShutdown)
    }
    m.publishPending([numRoles]int{})
    logutil.Infof(m.logger, "readiness monitor stopped; cancelled %d pending waits", len(outstanding))
}

// applySnapshot recomputes all counters from s in one critical section and
// resolves, after leaving it, every wait whose threshold now holds.
func (m *Monitor) applySnapshot(s membership.Snapshot) {
    var counts [numRoles]int
    if m.cfg.IncludeCoordinator {
        counts[slot(membership.RoleWorker)] = s.Count(membership.RoleWorker)
    } else {
        counts[slot(membership.RoleWorker)] = s.DedicatedWorkers()
    }
    counts[slot(membership.RoleCoordinator)] = s.Count(membership.RoleCoordinator)
    counts[slot(membership.RoleResourceManager)] = s.Count(membership.RoleResourceManager)
    counts[slot(membership.RoleCoordinatorSidecar)] = s.Count(membership.RoleCoordinatorSidecar)

    m.mu.Lock()
    if m.st.stopped {
        m.mu.Unlock()
        return
    }
    m.st.counts = counts
    var ready []*pendingWait
    for _, role := range []membership.NodeRole{membership.RoleWorker, membership.RoleCoordinator, membership.RoleCoordinatorSidecar} {
        i := slot(role)
        if len(m.st.waits[i]) == 0 || !m.satisfiedLocked(role) { continue }
        ready = append(ready, m.st.waits[i]...)
        m.st.waits[i] = nil
    }
    tasks := make([]scheduler.Task, len(ready))
    for i, w := range ready {
        tasks[i] = w.task
    }
    pending := m.pendingLocked()
    m.mu.Unlock()

    obsmetrics.SnapshotsApplied.Inc()
    for _, role := range membership.AllRoles {
        obsmetrics.ActiveNodes.WithLabelValues(role.String()).Set(float64(counts[slot(role)]))
    }
    m.publishPending(pending)

    for i, w := range ready {
        if tasks[i] != nil { tasks[i].Cancel() }
        w.f.Succeed()
    }
}

// satisfiedLocked reports whether a wait for role would succeed right now.
// Sidecar readiness is binary and ignores configured minimums.
func (m *Monitor) satisfiedLocked(role membership.NodeRole) bool {
    c := m.st.counts[slot(role)]
    switch role {
    case membership.RoleWorker:
        return c >= m.cfg.RequiredWorkers
    case membership.RoleCoordinator:
        return c >= m.cfg.RequiredCoordinators
    case membership.RoleCoordinatorSidecar:
        return m.cfg.CoordinatorSidecarEnabled && c > 0
    default:
        return false
    }
}

// WaitForMinimumWorkers returns a handle that succeeds once at least
// RequiredWorkers workers are active, or fails with an
// InsufficientResourcesError after RequiredWorkersMaxWait.
func (m *Monitor) WaitForMinimumWorkers() *future.Future {
    return m.wait(membership.RoleWorker, m.cfg.RequiredWorkers, m.cfg.RequiredWorkersMaxWait, CodeInsufficientResources)
}

// WaitForMinimumCoordinators is WaitForMinimumWorkers for coordinators.
func (m *Monitor) WaitForMinimumCoordinators() *future.Future {
    return m.wait(membership.RoleCoordinator, m.cfg.RequiredCoordinators, m.cfg.RequiredCoordinatorsMaxWait, CodeInsufficientResources)
}

// WaitForMinimumCoordinatorSidecars returns a handle that succeeds once any
// coordinator sidecar is active. With the sidecar feature disabled it is
// already succeeded.
func (m *Monitor) WaitForMinimumCoordinatorSidecars() *future.Future {
    if !m.cfg.CoordinatorSidecarEnabled {
        obsmetrics.WaitResults.WithLabelValues(membership.RoleCoordinatorSidecar.String(), obsmetrics.ResultImmediate).Inc()
        return future.Completed()
    }
    return m.wait(membership.RoleCoordinatorSidecar, 1, m.cfg.RequiredCoordinatorSidecarsMaxWait, CodeNoCoordinatorSidecars)
}

// Wait dispatches to the wait operation of role. Resource managers have none.
func (m *Monitor) Wait(role membership.NodeRole) (*future.Future, error) {
    switch role {
    case membership.RoleWorker:
        return m.WaitForMinimumWorkers(), nil
    case membership.RoleCoordinator:
        return m.WaitForMinimumCoordinators(), nil
    case membership.RoleCoordinatorSidecar:
        return m.WaitForMinimumCoordinatorSidecars(), nil
    default:
        return nil, ErrNoWait
    }
}

func (m *Monitor) wait(role membership.NodeRole, required int, maxWait time.Duration, code ErrorCode) *future.Future {
    m.mu.Lock()
    if m.st.stopped {
        m.mu.Unlock()
        f := future.New()
        f.CancelWithCause(ErrShutdown)
        obsmetrics.WaitResults.WithLabelValues(role.String(), obsmetrics.ResultShutdown).Inc()
        return f
    }
    if m.satisfiedLocked(role) {
        m.mu.Unlock()
        obsmetrics.WaitResults.WithLabelValues(role.String(), obsmetrics.ResultImmediate).Inc()
        return future.Completed()
    }
    w := &pendingWait{role: role, required: required, maxWait: maxWait, code: code, registered: time.Now(), f: future.New()}
    i := slot(role)
    m.st.waits[i] = append(m.st.waits[i], w)
    pending := m.pendingLocked()
    m.mu.Unlock()
    m.publishPending(pending)

    task := m.sched.Schedule(maxWait, func() { m.expire(w) })
    m.mu.Lock()
    w.task = task
    m.mu.Unlock()

    // Runs once on whichever path resolves the handle, including a caller's
    // Cancel. If the handle is already resolved it runs right here.
    w.f.AddListener(func() {
        task.Cancel()
        m.remove(w)
        m.recordResult(w)
    })
    return w.f
}

// expire fails w if it is still pending when its timeout fires.
func (m *Monitor) expire(w *pendingWait) {
    m.mu.Lock()
    if !m.removeLocked(w) {
        m.mu.Unlock()
        return
    }
    observed := m.st.counts[slot(w.role)]
    pending := m.pendingLocked()
    m.mu.Unlock()
    m.publishPending(pending)

    err := &InsufficientResourcesError{Code: w.code, Role: w.role, Required: w.required, Observed: observed, Waited: w.maxWait}
    if w.f.Fail(err) {
        logutil.Warnf(m.logger, "wait for %s registered at %s timed out: %v", w.role, w.registered.Format(time.RFC3339), err)
    }
}

func (m *Monitor) remove(w *pendingWait) {
    m.mu.Lock()
    removed := m.removeLocked(w)
    pending := m.pendingLocked()
    m.mu.Unlock()
    if removed { m.publishPending(pending) }
}

func (m *Monitor) removeLocked(w *pendingWait) bool {
    i := slot(w.role)
    q := m.st.waits[i]
    for j, x := range q {
        if x == w {
            copy(q[j:], q[j+1:])
            q[len(q)-1] = nil
            m.st.waits[i] = q[:len(q)-1]
            return true
        }
    }
    return false
}

func (m *Monitor) recordResult(w *pendingWait) {
    result := obsmetrics.ResultSucceeded
    switch w.f.State() {
    case future.Failed:
        result = obsmetrics.ResultTimedOut
    case future.Cancelled:
        result = obsmetrics.ResultCancelled
        if errors.Is(w.f.Err(), ErrShutdown) { result = obsmetrics.ResultShutdown }
    }
    obsmetrics.WaitResults.WithLabelValues(w.role.String(), result).Inc()
}

func (m *Monitor) pendingLocked() [numRoles]int {
    var out [numRoles]int
    for i := range m.st.waits {
        out[i] = len(m.st.waits[i])
    }
    return out
}

func (m *Monitor) publishPending(p [numRoles]int) {
    for _, role := range membership.AllRoles {
        obsmetrics.PendingWaits.WithLabelValues(role.String()).Set(float64(p[slot(role)]))
    }
}

func slot(r membership.NodeRole) int { return int(r) }
