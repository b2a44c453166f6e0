package membership

import (
    "context"
    "time"
)

// MemberInfo describes a cluster member as observed by the gossip layer.
// Meta carries auxiliary data; Meta[MetaRoles] lists the member's roles.
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

// Roles returns the roles advertised in the member metadata. Unknown names are
// ignored.
func (m MemberInfo) Roles() RoleSet {
    if m.Meta == nil { return 0 }
    rs, _ := ParseRoles(m.Meta[MetaRoles])
    return rs
}

type EventType string

const (
    // EventJoin indicates a member joined or became visible.
    EventJoin   EventType = "join"
    // EventLeave indicates a member left the cluster.
    EventLeave  EventType = "leave"
    // EventUpdate indicates a member changed its metadata (e.g., roles).
    EventUpdate EventType = "update"
)

// Event is the translated membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the abstraction over the underlying gossip/failure-detection
// layer. It decides which nodes are alive; readiness tracking only consumes
// its view.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) error
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
