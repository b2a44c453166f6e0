package membership

import "sort"

type nodeSet map[string]struct{}

func newNodeSet(ids []string) nodeSet {
    s := make(nodeSet, len(ids))
    for _, id := range ids {
        if id != "" { s[id] = struct{}{} }
    }
    return s
}

func (s nodeSet) sorted() []string {
    out := make([]string, 0, len(s))
    for id := range s { out = append(out, id) }
    sort.Strings(out)
    return out
}

// SnapshotSets lists node IDs per category for NewSnapshot. The sets may
// overlap; a coordinator is usually also listed in Active.
type SnapshotSets struct {
    // Active holds every active node, regardless of role.
    Active              []string
    Coordinators        []string
    ResourceManagers    []string
    CoordinatorSidecars []string
}

// Snapshot is an immutable point-in-time view of the active nodes per role.
// The zero value is an empty cluster.
type Snapshot struct {
    active      nodeSet
    coordinator nodeSet
    rm          nodeSet
    sidecar     nodeSet
}

// NewSnapshot copies sets into an immutable Snapshot. Empty IDs are dropped.
func NewSnapshot(sets SnapshotSets) Snapshot {
    return Snapshot{
        active:      newNodeSet(sets.Active),
        coordinator: newNodeSet(sets.Coordinators),
        rm:          newNodeSet(sets.ResourceManagers),
        sidecar:     newNodeSet(sets.CoordinatorSidecars),
    }
}

// SnapshotFromMembers treats every member as active and files it under the
// roles advertised in its metadata.
func SnapshotFromMembers(members []MemberInfo) Snapshot {
    var sets SnapshotSets
    for _, m := range members {
        if m.ID == "" { continue }
        sets.Active = append(sets.Active, m.ID)
        rs := m.Roles()
        if rs.Has(RoleCoordinator) { sets.Coordinators = append(sets.Coordinators, m.ID) }
        if rs.Has(RoleResourceManager) { sets.ResourceManagers = append(sets.ResourceManagers, m.ID) }
        if rs.Has(RoleCoordinatorSidecar) { sets.CoordinatorSidecars = append(sets.CoordinatorSidecars, m.ID) }
    }
    return NewSnapshot(sets)
}

// ActiveNodes returns the sorted IDs of all active nodes.
func (s Snapshot) ActiveNodes() []string { return s.active.sorted() }

func (s Snapshot) ActiveCoordinators() []string { return s.coordinator.sorted() }

func (s Snapshot) ActiveResourceManagers() []string { return s.rm.sorted() }

func (s Snapshot) ActiveCoordinatorSidecars() []string { return s.sidecar.sorted() }

// Count returns how many active nodes are filed under role. For RoleWorker
// this is the number of all active nodes.
func (s Snapshot) Count(role NodeRole) int {
    switch role {
    case RoleWorker:
        return len(s.active)
    case RoleCoordinator:
        return len(s.coordinator)
    case RoleResourceManager:
        return len(s.rm)
    case RoleCoordinatorSidecar:
        return len(s.sidecar)
    default:
        return 0
    }
}

// DedicatedWorkers counts active nodes that are neither coordinators nor
// resource managers.
func (s Snapshot) DedicatedWorkers() int {
    n := 0
    for id := range s.active {
        if _, ok := s.coordinator[id]; ok { continue }
        if _, ok := s.rm[id]; ok { continue }
        n++
    }
    return n
}
