package inmem

import (
    "sort"
    "sync"

    base "github.com/amirimatin/go-readiness/pkg/membership"
)

// Source is an in-memory membership source. The embedding application (or a
// test) owns the view and pushes changes through Update or Set.
type Source struct {
    base.Broadcaster
    mu    sync.Mutex
    nodes map[string]base.RoleSet
}

// New returns a Source whose current snapshot is initial.
func New(initial base.Snapshot) *Source {
    s := &Source{nodes: make(map[string]base.RoleSet)}
    s.Broadcaster.Publish(initial)
    return s
}

// Update replaces the current snapshot and notifies subscribers synchronously.
// Node-level bookkeeping done through Set is discarded.
func (s *Source) Update(snap base.Snapshot) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nodes = make(map[string]base.RoleSet)
    s.Publish(snap)
}

// Set marks id active with the given roles and publishes the resulting view.
func (s *Source) Set(id string, roles base.RoleSet) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.nodes[id] = roles
    s.Publish(s.snapshotLocked())
}

// Remove drops id from the view and publishes the result.
func (s *Source) Remove(id string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    delete(s.nodes, id)
    s.Publish(s.snapshotLocked())
}

func (s *Source) snapshotLocked() base.Snapshot {
    ids := make([]string, 0, len(s.nodes))
    for id := range s.nodes { ids = append(ids, id) }
    sort.Strings(ids)
    members := make([]base.MemberInfo, 0, len(ids))
    for _, id := range ids {
        members = append(members, base.MemberInfo{ID: id, Meta: map[string]string{base.MetaRoles: s.nodes[id].String()}})
    }
    return base.SnapshotFromMembers(members)
}

var _ base.Source = (*Source)(nil)
