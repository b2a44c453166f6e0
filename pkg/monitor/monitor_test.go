package monitor

import (
    "errors"
    "fmt"
    "io"
    "log"
    "sync"
    "testing"
    "time"

    "github.com/leanovate/gopter"
    "github.com/leanovate/gopter/gen"
    "github.com/leanovate/gopter/prop"
    "github.com/prometheus/client_golang/prometheus/testutil"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-readiness/pkg/future"
    "github.com/amirimatin/go-readiness/pkg/membership"
    "github.com/amirimatin/go-readiness/pkg/membership/inmem"
    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
    "github.com/amirimatin/go-readiness/pkg/scheduler"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func nodes(prefix string, n int) []string {
    out := make([]string, n)
    for i := range out {
        out[i] = prefix + string(rune('a'+i))
    }
    return out
}

// cluster builds a snapshot with nWorkers dedicated workers and nCoords
// coordinators (also active).
func cluster(nWorkers, nCoords int) membership.Snapshot {
    w, c := nodes("w-", nWorkers), nodes("c-", nCoords)
    return membership.NewSnapshot(membership.SnapshotSets{Active: append(append([]string{}, w...), c...), Coordinators: c})
}

func newTestMonitor(t *testing.T, cfg Config, initial membership.Snapshot) (*Monitor, *inmem.Source, *scheduler.Manual) {
    t.Helper()
    src := inmem.New(initial)
    sched := scheduler.NewManual()
    m, err := New(Options{Config: cfg, Source: src, Scheduler: sched, Logger: quietLogger()})
    require.NoError(t, err)
    m.Start()
    t.Cleanup(m.Stop)
    return m, src, sched
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
    _, err := New(Options{Config: DefaultConfig()})
    require.ErrorIs(t, err, ErrInvalidConfig)

    cfg := DefaultConfig()
    cfg.RequiredWorkers = -1
    _, err = New(Options{Config: cfg, Source: inmem.New(membership.Snapshot{})})
    require.ErrorIs(t, err, ErrInvalidConfig)
    assert.Contains(t, err.Error(), "RequiredWorkers")

    cfg = DefaultConfig()
    cfg.RequiredCoordinatorsMaxWait = -time.Second
    require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

    require.NoError(t, DefaultConfig().Validate())
}

func TestWaitForMinimumWorkers_ImmediateWhenSatisfied(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 2
    m, _, sched := newTestMonitor(t, cfg, cluster(2, 1))

    f := m.WaitForMinimumWorkers()
    require.Equal(t, future.Succeeded, f.State())
    assert.Equal(t, 0, sched.Pending(), "no timeout should be scheduled for an immediate success")
    assert.Equal(t, 3, m.Count(membership.RoleWorker))
}

func TestWaitForMinimumWorkers_SucceedsOnFirstSatisfyingSnapshot(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 3
    cfg.RequiredWorkersMaxWait = time.Minute
    m, src, sched := newTestMonitor(t, cfg, cluster(0, 1))

    a, b := m.WaitForMinimumWorkers(), m.WaitForMinimumWorkers()
    require.Equal(t, future.Pending, a.State())
    require.Equal(t, 2, sched.Pending())
    require.Equal(t, 2, m.Status().Pending[membership.RoleWorker.String()])

    src.Update(cluster(1, 1))
    assert.Equal(t, future.Pending, a.State())

    src.Update(cluster(2, 1))
    assert.Equal(t, future.Succeeded, a.State())
    assert.Equal(t, future.Succeeded, b.State())
    assert.Equal(t, 0, sched.Pending(), "timeouts must be cancelled on success")
    assert.Empty(t, m.Status().Pending)

    // advancing past the max wait must not retract the success
    sched.Advance(2 * time.Minute)
    assert.Equal(t, future.Succeeded, a.State())
    assert.NoError(t, a.Err())
}

func TestWaitForMinimumWorkers_TimesOut(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 5
    cfg.RequiredWorkersMaxWait = 10 * time.Second
    m, src, sched := newTestMonitor(t, cfg, cluster(1, 1))

    f := m.WaitForMinimumWorkers()
    src.Update(cluster(2, 1))
    sched.Advance(9 * time.Second)
    require.Equal(t, future.Pending, f.State())

    sched.Advance(time.Second)
    require.Equal(t, future.Failed, f.State())
    var ire *InsufficientResourcesError
    require.ErrorAs(t, f.Err(), &ire)
    assert.Equal(t, CodeInsufficientResources, ire.Code)
    assert.Equal(t, membership.RoleWorker, ire.Role)
    assert.Equal(t, 5, ire.Required)
    assert.Equal(t, 3, ire.Observed)
    assert.Equal(t, 10*time.Second, ire.Waited)
    assert.True(t, IsInsufficientResources(f.Err()))
    assert.Contains(t, f.Err().Error(), "waited 10s for at least 5 workers, but only 3 workers are active")
    assert.Empty(t, m.Status().Pending)

    // later growth does not flip a failed handle
    src.Update(cluster(10, 1))
    assert.Equal(t, future.Failed, f.State())
}

func TestCoordinators_SucceedBeforeDeadline(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredCoordinators = 3
    cfg.RequiredCoordinatorsMaxWait = 5 * time.Second
    m, src, sched := newTestMonitor(t, cfg, cluster(0, 1))

    f := m.WaitForMinimumCoordinators()
    sched.Advance(2 * time.Second)
    src.Update(cluster(0, 3))
    require.Equal(t, future.Succeeded, f.State())
    sched.Advance(10 * time.Second)
    assert.Equal(t, future.Succeeded, f.State())
}

func TestCoordinators_TimeoutMessageUsesConfiguredValues(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredCoordinators = 4
    cfg.RequiredCoordinatorsMaxWait = 7 * time.Second
    m, _, sched := newTestMonitor(t, cfg, cluster(0, 1))

    f := m.WaitForMinimumCoordinators()
    sched.Advance(7 * time.Second)
    require.Equal(t, future.Failed, f.State())
    assert.Contains(t, f.Err().Error(), "waited 7s for at least 4 coordinators, but only 1 coordinators are active")
}

func TestCancelByCaller_RemovesWaitAndTimeout(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 4
    m, src, sched := newTestMonitor(t, cfg, cluster(1, 0))

    f := m.WaitForMinimumWorkers()
    require.Equal(t, 1, sched.Pending())
    require.True(t, f.Cancel())
    assert.Equal(t, 0, sched.Pending())
    assert.Empty(t, m.Status().Pending)

    src.Update(cluster(4, 0))
    sched.Advance(time.Hour)
    assert.Equal(t, future.Cancelled, f.State())
    assert.ErrorIs(t, f.Err(), future.ErrCancelled)
}

func TestDedicatedWorkersWhenCoordinatorExcluded(t *testing.T) {
    cfg := DefaultConfig()
    cfg.IncludeCoordinator = false
    cfg.RequiredWorkers = 2
    m, src, _ := newTestMonitor(t, cfg, cluster(0, 3))

    assert.Equal(t, 0, m.Count(membership.RoleWorker))
    f := m.WaitForMinimumWorkers()
    require.Equal(t, future.Pending, f.State())

    src.Update(cluster(2, 3))
    assert.Equal(t, 2, m.Count(membership.RoleWorker))
    assert.Equal(t, future.Succeeded, f.State())
}

func TestResourceManagersNotCountedAsDedicatedWorkers(t *testing.T) {
    cfg := DefaultConfig()
    cfg.IncludeCoordinator = false
    cfg.RequiredResourceManagersActive = 1
    snap := membership.NewSnapshot(membership.SnapshotSets{
        Active:           []string{"w-a", "rm-a", "c-a"},
        Coordinators:     []string{"c-a"},
        ResourceManagers: []string{"rm-a"},
    })
    m, _, _ := newTestMonitor(t, cfg, snap)

    st := m.Status()
    assert.Equal(t, 1, st.Workers)
    assert.Equal(t, 1, st.ResourceManagers)
    assert.True(t, st.HasRequiredResourceManagers)
    assert.True(t, m.HasRequiredResourceManagers())

    _, err := m.Wait(membership.RoleResourceManager)
    assert.ErrorIs(t, err, ErrNoWait)
}

func TestHasRequired_UsesActiveThresholds(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 1
    cfg.RequiredWorkersActive = 3
    cfg.RequiredCoordinators = 1
    cfg.RequiredCoordinatorsActive = 2
    m, src, _ := newTestMonitor(t, cfg, cluster(1, 1))

    assert.Equal(t, future.Succeeded, m.WaitForMinimumWorkers().State())
    assert.False(t, m.HasRequiredWorkers())
    assert.False(t, m.HasRequiredCoordinators())
    assert.False(t, m.HasRequiredCoordinatorSidecars())

    src.Update(cluster(1, 2))
    assert.True(t, m.HasRequiredWorkers())
    assert.True(t, m.HasRequiredCoordinators())
}

func TestCoordinatorSidecar_DisabledSucceedsImmediately(t *testing.T) {
    m, _, sched := newTestMonitor(t, DefaultConfig(), cluster(1, 1))
    f := m.WaitForMinimumCoordinatorSidecars()
    assert.Equal(t, future.Succeeded, f.State())
    assert.Equal(t, 0, sched.Pending())
}

func TestCoordinatorSidecar_SucceedsWhenAnyActive(t *testing.T) {
    cfg := DefaultConfig()
    cfg.CoordinatorSidecarEnabled = true
    cfg.RequiredCoordinatorSidecarsMaxWait = 30 * time.Second
    m, src, _ := newTestMonitor(t, cfg, cluster(1, 1))

    f := m.WaitForMinimumCoordinatorSidecars()
    require.Equal(t, future.Pending, f.State())

    // count jumps straight from 0 to 2
    src.Update(membership.NewSnapshot(membership.SnapshotSets{
        Active:              []string{"c-a", "s-a", "s-b"},
        Coordinators:        []string{"c-a"},
        CoordinatorSidecars: []string{"s-a", "s-b"},
    }))
    assert.Equal(t, future.Succeeded, f.State())
    assert.True(t, m.HasRequiredCoordinatorSidecars())
    assert.Equal(t, future.Succeeded, m.WaitForMinimumCoordinatorSidecars().State())
}

func TestCoordinatorSidecar_TimeoutCode(t *testing.T) {
    cfg := DefaultConfig()
    cfg.CoordinatorSidecarEnabled = true
    cfg.RequiredCoordinatorSidecarsMaxWait = time.Second
    m, _, sched := newTestMonitor(t, cfg, cluster(1, 1))

    f, err := m.Wait(membership.RoleCoordinatorSidecar)
    require.NoError(t, err)
    sched.Advance(time.Second)
    var ire *InsufficientResourcesError
    require.ErrorAs(t, f.Err(), &ire)
    assert.Equal(t, CodeNoCoordinatorSidecars, ire.Code)
    assert.Equal(t, 0, ire.Observed)
}

func TestStop_CancelsPendingWithShutdown(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 10
    cfg.RequiredCoordinators = 10
    src := inmem.New(cluster(1, 1))
    sched := scheduler.NewManual()
    m, err := New(Options{Config: cfg, Source: src, Scheduler: sched, Logger: quietLogger()})
    require.NoError(t, err)
    m.Start()

    w, c := m.WaitForMinimumWorkers(), m.WaitForMinimumCoordinators()
    m.Stop()
    m.Stop()

    for _, f := range []*future.Future{w, c} {
        assert.Equal(t, future.Cancelled, f.State())
        assert.ErrorIs(t, f.Err(), ErrShutdown)
        assert.ErrorIs(t, f.Err(), future.ErrCancelled)
        assert.False(t, IsInsufficientResources(f.Err()))
    }
    sched.Advance(time.Hour)
    assert.Equal(t, future.Cancelled, w.State())

    // snapshots after stop are ignored; new waits are born cancelled
    src.Update(cluster(20, 20))
    assert.Equal(t, 2, m.Count(membership.RoleWorker))
    late := m.WaitForMinimumWorkers()
    assert.Equal(t, future.Cancelled, late.State())
    assert.ErrorIs(t, late.Err(), ErrShutdown)
    assert.True(t, m.Status().Stopped)
}

func TestWaitResultsMetric(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredCoordinators = 2
    cfg.RequiredCoordinatorsMaxWait = time.Second
    m, src, sched := newTestMonitor(t, cfg, cluster(0, 1))

    role := membership.RoleCoordinator.String()
    succeeded := testutil.ToFloat64(obsmetrics.WaitResults.WithLabelValues(role, obsmetrics.ResultSucceeded))
    timedOut := testutil.ToFloat64(obsmetrics.WaitResults.WithLabelValues(role, obsmetrics.ResultTimedOut))

    f := m.WaitForMinimumCoordinators()
    assert.Equal(t, float64(1), testutil.ToFloat64(obsmetrics.PendingWaits.WithLabelValues(role)))
    sched.Advance(time.Second)
    require.Equal(t, future.Failed, f.State())

    g := m.WaitForMinimumCoordinators()
    src.Update(cluster(0, 2))
    require.Equal(t, future.Succeeded, g.State())

    assert.Equal(t, timedOut+1, testutil.ToFloat64(obsmetrics.WaitResults.WithLabelValues(role, obsmetrics.ResultTimedOut)))
    assert.Equal(t, succeeded+1, testutil.ToFloat64(obsmetrics.WaitResults.WithLabelValues(role, obsmetrics.ResultSucceeded)))
    assert.Equal(t, float64(2), testutil.ToFloat64(obsmetrics.ActiveNodes.WithLabelValues(role)))
    assert.Equal(t, float64(0), testutil.ToFloat64(obsmetrics.PendingWaits.WithLabelValues(role)))
}

// Concurrent waits, cancels and snapshot updates against the real scheduler:
// every handle must resolve, and once the threshold holds no wait stays pending.
func TestConcurrentWaitsAndUpdates(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 8
    cfg.RequiredWorkersMaxWait = 5 * time.Second
    src := inmem.New(cluster(0, 1))
    m, err := New(Options{Config: cfg, Source: src, Logger: quietLogger()})
    require.NoError(t, err)
    m.Start()
    defer m.Stop()

    var (
        wg      sync.WaitGroup
        mu      sync.Mutex
        handles []*future.Future
    )
    for g := 0; g < 8; g++ {
        wg.Add(1)
        go func(g int) {
            defer wg.Done()
            for i := 0; i < 50; i++ {
                f := m.WaitForMinimumWorkers()
                if i%7 == 0 { f.Cancel() }
                mu.Lock()
                handles = append(handles, f)
                mu.Unlock()
            }
        }(g)
    }
    wg.Add(1)
    go func() {
        defer wg.Done()
        for n := 0; n <= 8; n++ {
            src.Update(cluster(n, 1))
        }
    }()
    wg.Wait()
    src.Update(cluster(8, 1))

    for _, f := range handles {
        select {
        case <-f.Done():
        case <-time.After(2 * time.Second):
            t.Fatalf("handle still %s after threshold was met", f.State())
        }
        if f.State() == future.Failed { t.Fatalf("unexpected failure: %v", f.Err()) }
    }
    assert.Empty(t, m.Status().Pending)
}

func TestStatusString(t *testing.T) {
    m, _, _ := newTestMonitor(t, DefaultConfig(), cluster(2, 1))
    assert.Equal(t, "workers=3 coordinators=1 resource_managers=0 coordinator_sidecars=0", m.Status().String())
    assert.True(t, errors.Is(ErrShutdown, future.ErrCancelled))
}

// returnsWithin fails the test when fn does not return in time, which is how
// a lock re-entered from a listener shows up.
func returnsWithin(t *testing.T, d time.Duration, what string, fn func()) {
    t.Helper()
    done := make(chan struct{})
    go func() {
        defer close(done)
        fn()
    }()
    select {
    case <-done:
    case <-time.After(d):
        t.Fatalf("%s did not return: a listener re-entering the monitor blocked it", what)
    }
}

func TestStop_ListenerMayStopMonitor(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 5
    m, _, _ := newTestMonitor(t, cfg, cluster(1, 1))

    f := m.WaitForMinimumWorkers()
    var calls int
    f.AddListener(func() {
        calls++
        m.Stop()
    })
    returnsWithin(t, 2*time.Second, "Stop", m.Stop)
    assert.Equal(t, 1, calls)
    assert.ErrorIs(t, f.Err(), ErrShutdown)
    assert.True(t, m.Status().Stopped)
}

func TestStart_ListenerMayStopMonitor(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 3
    src := inmem.New(cluster(0, 1))
    sched := scheduler.NewManual()
    m, err := New(Options{Config: cfg, Source: src, Scheduler: sched, Logger: quietLogger()})
    require.NoError(t, err)
    t.Cleanup(m.Stop)

    // registered before Start; resolved by the snapshot Start applies
    f := m.WaitForMinimumWorkers()
    require.Equal(t, future.Pending, f.State())
    f.AddListener(m.Stop)
    src.Update(cluster(3, 1))

    returnsWithin(t, 2*time.Second, "Start", m.Start)
    assert.Equal(t, future.Succeeded, f.State())
    assert.True(t, m.Status().Stopped)
    assert.Equal(t, 0, sched.Pending())

    // a stopped monitor no longer follows the source
    src.Update(cluster(6, 1))
    assert.Equal(t, 4, m.Count(membership.RoleWorker))
}

func TestSuccessListener_ReentersMonitor(t *testing.T) {
    cfg := DefaultConfig()
    cfg.RequiredWorkers = 3
    m, src, sched := newTestMonitor(t, cfg, cluster(0, 1))

    f := m.WaitForMinimumWorkers()
    var (
        seen   Status
        nested *future.Future
    )
    f.AddListener(func() {
        seen = m.Status()
        nested = m.WaitForMinimumWorkers()
    })
    returnsWithin(t, 2*time.Second, "Update", func() { src.Update(cluster(2, 1)) })

    assert.Equal(t, future.Succeeded, f.State())
    assert.Equal(t, 3, seen.Workers)
    assert.Empty(t, seen.Pending, "the resolved wait is already deregistered")
    require.NotNil(t, nested)
    assert.Equal(t, future.Succeeded, nested.State())
    assert.Equal(t, 0, sched.Pending())
}

func TestPropertyCountsAndThresholds(t *testing.T) {
    parameters := gopter.DefaultTestParameters()
    parameters.MinSuccessfulTests = 200
    properties := gopter.NewProperties(parameters)

    // each mask assigns one node: bit 0 active, 1 coordinator, 2 resource
    // manager, 3 coordinator sidecar
    properties.Property("counters and readiness follow the snapshot", prop.ForAll(
        func(masks []int, includeCoordinator bool, workers, coords, rms int) bool {
            var sets membership.SnapshotSets
            active, dedicated := 0, 0
            coordN, rmN, sidecarN := 0, 0, 0
            for i, mask := range masks {
                id := fmt.Sprintf("n%d", i)
                if mask&1 != 0 {
                    sets.Active = append(sets.Active, id)
                    active++
                    if mask&6 == 0 { dedicated++ }
                }
                if mask&2 != 0 { sets.Coordinators = append(sets.Coordinators, id); coordN++ }
                if mask&4 != 0 { sets.ResourceManagers = append(sets.ResourceManagers, id); rmN++ }
                if mask&8 != 0 { sets.CoordinatorSidecars = append(sets.CoordinatorSidecars, id); sidecarN++ }
            }

            cfg := DefaultConfig()
            cfg.IncludeCoordinator = includeCoordinator
            cfg.RequiredWorkers, cfg.RequiredWorkersActive = workers, workers
            cfg.RequiredCoordinators, cfg.RequiredCoordinatorsActive = coords, coords
            cfg.RequiredResourceManagersActive = rms
            cfg.CoordinatorSidecarEnabled = true
            m, err := New(Options{Config: cfg, Source: inmem.New(membership.NewSnapshot(sets)), Scheduler: scheduler.NewManual(), Logger: quietLogger()})
            if err != nil { return false }
            m.Start()
            defer m.Stop()

            wantWorkers := active
            if !includeCoordinator { wantWorkers = dedicated }
            st := m.Status()
            wf := m.WaitForMinimumWorkers()
            sf := m.WaitForMinimumCoordinatorSidecars()
            return st.Workers == wantWorkers &&
                st.Coordinators == coordN &&
                st.ResourceManagers == rmN &&
                st.CoordinatorSidecars == sidecarN &&
                st.HasRequiredWorkers == (wantWorkers >= workers) &&
                st.HasRequiredCoordinators == (coordN >= coords) &&
                st.HasRequiredResourceManagers == (rmN >= rms) &&
                st.HasRequiredCoordinatorSidecars == (sidecarN > 0) &&
                (wf.State() == future.Succeeded) == (wantWorkers >= workers) &&
                (sf.State() == future.Succeeded) == (sidecarN > 0)
        },
        gen.SliceOfN(8, gen.IntRange(0, 15)),
        gen.Bool(),
        gen.IntRange(0, 8),
        gen.IntRange(0, 8),
        gen.IntRange(0, 8),
    ))
    properties.TestingRun(t)
}
