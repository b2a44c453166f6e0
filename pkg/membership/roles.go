package membership

import (
    "fmt"
    "strings"
)

// MetaRoles is the member metadata key holding a comma-separated role list.
const MetaRoles = "roles"

// NodeRole classifies a cluster member.
type NodeRole int

const (
    RoleWorker NodeRole = iota
    RoleCoordinator
    RoleResourceManager
    RoleCoordinatorSidecar
)

// AllRoles lists every role in declaration order.
var AllRoles = []NodeRole{RoleWorker, RoleCoordinator, RoleResourceManager, RoleCoordinatorSidecar}

func (r NodeRole) String() string {
    switch r {
    case RoleWorker:
        return "worker"
    case RoleCoordinator:
        return "coordinator"
    case RoleResourceManager:
        return "resource_manager"
    case RoleCoordinatorSidecar:
        return "coordinator_sidecar"
    default:
        return fmt.Sprintf("role(%d)", int(r))
    }
}

// ParseRole accepts the String form of a role, case-insensitively; dashes
// are accepted in place of underscores.
func ParseRole(s string) (NodeRole, error) {
    v := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
    for _, r := range AllRoles {
        if r.String() == v { return r, nil }
    }
    return 0, fmt.Errorf("membership: unknown role %q", s)
}

// RoleSet is a bit set of roles.
type RoleSet uint8

func NewRoleSet(roles ...NodeRole) RoleSet {
    var rs RoleSet
    for _, r := range roles {
        rs = rs.With(r)
    }
    return rs
}

func (rs RoleSet) With(r NodeRole) RoleSet { return rs | 1<<uint(r) }

func (rs RoleSet) Has(r NodeRole) bool { return rs&(1<<uint(r)) != 0 }

func (rs RoleSet) Roles() []NodeRole {
    var out []NodeRole
    for _, r := range AllRoles {
        if rs.Has(r) { out = append(out, r) }
    }
    return out
}

// String renders the set in the MetaRoles format.
func (rs RoleSet) String() string {
    names := make([]string, 0, len(AllRoles))
    for _, r := range rs.Roles() {
        names = append(names, r.String())
    }
    return strings.Join(names, ",")
}

// ParseRoles parses a comma-separated role list. Empty items are skipped.
// Unknown names are skipped too; the first one is reported as the error.
func ParseRoles(csv string) (RoleSet, error) {
    var (
        rs       RoleSet
        firstErr error
    )
    for _, p := range strings.Split(csv, ",") {
        if strings.TrimSpace(p) == "" { continue }
        r, err := ParseRole(p)
        if err != nil {
            if firstErr == nil { firstErr = err }
            continue
        }
        rs = rs.With(r)
    }
    return rs, firstErr
}
