package monitor

import (
    "fmt"

    "github.com/amirimatin/go-readiness/pkg/membership"
)

// Status is a consistent copy of the monitor state, taken in one critical
// section.
type Status struct {
    Workers             int
    Coordinators        int
    ResourceManagers    int
    CoordinatorSidecars int

    HasRequiredWorkers             bool
    HasRequiredCoordinators        bool
    HasRequiredResourceManagers    bool
    HasRequiredCoordinatorSidecars bool

    // Pending counts unresolved waits per role name.
    Pending map[string]int
    Stopped bool
}

func (s Status) String() string {
    return fmt.Sprintf("workers=%d coordinators=%d resource_managers=%d coordinator_sidecars=%d",
        s.Workers, s.Coordinators, s.ResourceManagers, s.CoordinatorSidecars)
}

// HasRequiredWorkers reports whether at least RequiredWorkersActive workers
// are active.
func (m *Monitor) HasRequiredWorkers() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.hasRequiredLocked(membership.RoleWorker)
}

// HasRequiredCoordinators reports whether at least RequiredCoordinatorsActive
// coordinators are active.
func (m *Monitor) HasRequiredCoordinators() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.hasRequiredLocked(membership.RoleCoordinator)
}

// HasRequiredResourceManagers reports whether at least
// RequiredResourceManagersActive resource managers are active.
func (m *Monitor) HasRequiredResourceManagers() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.hasRequiredLocked(membership.RoleResourceManager)
}

// HasRequiredCoordinatorSidecars reports whether any coordinator sidecar is
// active. It does not consult the sidecar feature flag.
func (m *Monitor) HasRequiredCoordinatorSidecars() bool {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.hasRequiredLocked(membership.RoleCoordinatorSidecar)
}

func (m *Monitor) hasRequiredLocked(role membership.NodeRole) bool {
    c := m.st.counts[slot(role)]
    switch role {
    case membership.RoleWorker:
        return c >= m.cfg.RequiredWorkersActive
    case membership.RoleCoordinator:
        return c >= m.cfg.RequiredCoordinatorsActive
    case membership.RoleResourceManager:
        return c >= m.cfg.RequiredResourceManagersActive
    default:
        return c > 0
    }
}

// Count returns the current active count for role.
func (m *Monitor) Count(role membership.NodeRole) int {
    m.mu.Lock()
    defer m.mu.Unlock()
    return m.st.counts[slot(role)]
}

// Status returns all counts, readiness flags and pending waits read together.
func (m *Monitor) Status() Status {
    m.mu.Lock()
    defer m.mu.Unlock()
    s := Status{
        Workers:                        m.st.counts[slot(membership.RoleWorker)],
        Coordinators:                   m.st.counts[slot(membership.RoleCoordinator)],
        ResourceManagers:               m.st.counts[slot(membership.RoleResourceManager)],
        CoordinatorSidecars:            m.st.counts[slot(membership.RoleCoordinatorSidecar)],
        HasRequiredWorkers:             m.hasRequiredLocked(membership.RoleWorker),
        HasRequiredCoordinators:        m.hasRequiredLocked(membership.RoleCoordinator),
        HasRequiredResourceManagers:    m.hasRequiredLocked(membership.RoleResourceManager),
        HasRequiredCoordinatorSidecars: m.hasRequiredLocked(membership.RoleCoordinatorSidecar),
        Pending:                        make(map[string]int, numRoles),
        Stopped:                        m.st.stopped,
    }
    for _, role := range membership.AllRoles {
        if n := len(m.st.waits[slot(role)]); n > 0 { s.Pending[role.String()] = n }
    }
    return s
}
