package transport

import (
    "context"
    "errors"
    "time"
)

// ErrInvalidRequest marks requests a WaitFunc rejects before waiting, such as
// an unknown role. Servers map it to a client error.
var ErrInvalidRequest = errors.New("transport: invalid request")

// Readiness is the wire form of a monitor status snapshot.
type Readiness struct {
    NodeID string `json:"nodeId,omitempty"`

    Workers             int `json:"workers"`
    Coordinators        int `json:"coordinators"`
    ResourceManagers    int `json:"resourceManagers"`
    CoordinatorSidecars int `json:"coordinatorSidecars"`

    HasRequiredWorkers             bool `json:"hasRequiredWorkers"`
    HasRequiredCoordinators        bool `json:"hasRequiredCoordinators"`
    HasRequiredResourceManagers    bool `json:"hasRequiredResourceManagers"`
    HasRequiredCoordinatorSidecars bool `json:"hasRequiredCoordinatorSidecars"`

    Pending map[string]int `json:"pending,omitempty"`
    Stopped bool           `json:"stopped,omitempty"`
}

// ReadinessFunc returns the current readiness of the serving node.
type ReadinessFunc func(ctx context.Context) (Readiness, error)

// WaitRequest asks the serving node to wait until role reaches its minimum.
// A positive Timeout bounds the wait on the serving side in addition to the
// monitor's own maximum wait.
type WaitRequest struct {
    Role    string        `json:"role"`
    Timeout time.Duration `json:"timeout,omitempty"`
}

// WaitResponse reports how a remote wait resolved. State is one of
// succeeded, failed or cancelled; Code is set for insufficiency failures.
type WaitResponse struct {
    Ready bool   `json:"ready"`
    State string `json:"state"`
    Error string `json:"error,omitempty"`
    Code  string `json:"code,omitempty"`
}

// WaitFunc blocks until the requested wait resolves or ctx is done. It
// returns an error (wrapping ErrInvalidRequest) only for requests it cannot
// serve; wait outcomes are reported in the response.
type WaitFunc func(ctx context.Context, req WaitRequest) (WaitResponse, error)

// RPCServer exposes the readiness management endpoints.
type RPCServer interface {
    Start(ctx context.Context, readiness ReadinessFunc, wait WaitFunc) error
    Addr() string
    Stop(ctx context.Context) error
}

// RPCClient calls the management endpoints of another node using the chosen
// protocol (HTTP/JSON or gRPC JSON codec).
type RPCClient interface {
    GetReadiness(ctx context.Context, addr string) (Readiness, error)
    Wait(ctx context.Context, addr string, req WaitRequest) (WaitResponse, error)
    Close() error
}
