package monitor

import (
    "errors"
    "fmt"
    "time"

    "github.com/amirimatin/go-readiness/pkg/future"
    "github.com/amirimatin/go-readiness/pkg/membership"
)

var (
    ErrInvalidConfig = errors.New("monitor: invalid config")
    // ErrShutdown is the cause of every wait cancelled by Stop. It wraps
    // future.ErrCancelled.
    ErrShutdown = fmt.Errorf("monitor: shutting down: %w", future.ErrCancelled)
)

// ErrorCode classifies insufficiency failures.
type ErrorCode string

const (
    CodeInsufficientResources ErrorCode = "insufficient_resources"
    CodeNoCoordinatorSidecars ErrorCode = "no_coordinator_sidecars"
)

// InsufficientResourcesError is the failure of a wait whose threshold was not
// met within its maximum wait.
type InsufficientResourcesError struct {
    Code     ErrorCode
    Role     membership.NodeRole
    Required int
    Observed int
    Waited   time.Duration
}

func (e *InsufficientResourcesError) Error() string {
    noun := roleNoun(e.Role)
    return fmt.Sprintf("insufficient active %s nodes: waited %s for at least %d %ss, but only %d %ss are active",
        noun, e.Waited, e.Required, noun, e.Observed, noun)
}

func roleNoun(r membership.NodeRole) string {
    switch r {
    case membership.RoleResourceManager:
        return "resource manager"
    case membership.RoleCoordinatorSidecar:
        return "coordinator sidecar"
    default:
        return r.String()
    }
}

// IsInsufficientResources reports whether err is (or wraps) an
// InsufficientResourcesError.
func IsInsufficientResources(err error) bool {
    var ire *InsufficientResourcesError
    return errors.As(err, &ire)
}
