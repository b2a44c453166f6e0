package bootstrap

import (
    "context"
    "errors"
    "fmt"

    "github.com/amirimatin/go-readiness/pkg/future"
    "github.com/amirimatin/go-readiness/pkg/membership"
    "github.com/amirimatin/go-readiness/pkg/monitor"
    "github.com/amirimatin/go-readiness/pkg/transport"
)

// ReadinessFunc serves mon's status as transport.Readiness.
func ReadinessFunc(nodeID string, mon *monitor.Monitor) transport.ReadinessFunc {
    return func(context.Context) (transport.Readiness, error) {
        return ToReadiness(nodeID, mon.Status()), nil
    }
}

// ToReadiness converts a monitor status to its wire form.
func ToReadiness(nodeID string, st monitor.Status) transport.Readiness {
    rd := transport.Readiness{
        NodeID:                         nodeID,
        Workers:                        st.Workers,
        Coordinators:                   st.Coordinators,
        ResourceManagers:               st.ResourceManagers,
        CoordinatorSidecars:            st.CoordinatorSidecars,
        HasRequiredWorkers:             st.HasRequiredWorkers,
        HasRequiredCoordinators:        st.HasRequiredCoordinators,
        HasRequiredResourceManagers:    st.HasRequiredResourceManagers,
        HasRequiredCoordinatorSidecars: st.HasRequiredCoordinatorSidecars,
        Stopped:                        st.Stopped,
    }
    if len(st.Pending) > 0 {
        rd.Pending = make(map[string]int, len(st.Pending))
        for k, v := range st.Pending { rd.Pending[k] = v }
    }
    return rd
}

// WaitFunc serves remote waits from mon. The handle is cancelled when ctx is
// done or req.Timeout elapses first, so an abandoned request never leaves a
// wait registered.
func WaitFunc(mon *monitor.Monitor) transport.WaitFunc {
    return func(ctx context.Context, req transport.WaitRequest) (transport.WaitResponse, error) {
        role, err := membership.ParseRole(req.Role)
        if err != nil { return transport.WaitResponse{}, fmt.Errorf("%w: %v", transport.ErrInvalidRequest, err) }
        f, err := mon.Wait(role)
        if err != nil { return transport.WaitResponse{}, fmt.Errorf("%w: %s: %v", transport.ErrInvalidRequest, role, err) }

        if req.Timeout > 0 {
            var cancel context.CancelFunc
            ctx, cancel = context.WithTimeout(ctx, req.Timeout)
            defer cancel()
        }
        if werr := f.Wait(ctx); werr != nil && !f.IsDone() {
            f.CancelWithCause(fmt.Errorf("%w: %v", future.ErrCancelled, werr))
        }
        return toWaitResponse(f), nil
    }
}

func toWaitResponse(f *future.Future) transport.WaitResponse {
    resp := transport.WaitResponse{State: f.State().String()}
    switch f.State() {
    case future.Succeeded:
        resp.Ready = true
    default:
        if err := f.Err(); err != nil { resp.Error = err.Error() }
        var ire *monitor.InsufficientResourcesError
        if errors.As(f.Err(), &ire) { resp.Code = string(ire.Code) }
    }
    return resp
}
