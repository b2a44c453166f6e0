package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "sync"
    "time"

    "go.opentelemetry.io/otel/attribute"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
    "github.com/amirimatin/go-readiness/pkg/observability/tracing"
    "github.com/amirimatin/go-readiness/pkg/transport"
)

// ServiceName is the fully qualified name of the readiness service. The grpc
// health service reports it SERVING while the required workers are active.
const ServiceName = "readiness.v1.Readiness"

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    tlsCfg *tls.Config

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

type empty struct{}

// readinessServer defines the methods we expose.
type readinessServer interface {
    GetReadiness(ctx context.Context, in *empty) (*transport.Readiness, error)
    Wait(ctx context.Context, in *transport.WaitRequest) (*transport.WaitResponse, error)
}

type readinessImpl struct {
    readiness transport.ReadinessFunc
    wait      transport.WaitFunc
    server    *Server
}

func (r *readinessImpl) GetReadiness(ctx context.Context, _ *empty) (*transport.Readiness, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.readiness")
    rd, err := r.readiness(ctx)
    end(err)
    if err != nil { return nil, status.Error(codes.Internal, err.Error()) }
    r.server.SetServing(rd.HasRequiredWorkers)
    return &rd, nil
}

func (r *readinessImpl) Wait(ctx context.Context, in *transport.WaitRequest) (*transport.WaitResponse, error) {
    if in == nil { in = &transport.WaitRequest{} }
    if r.wait == nil { return nil, status.Error(codes.Unimplemented, "wait not supported") }
    ctx, end := tracing.StartSpan(ctx, "grpc.wait", attribute.String("role", in.Role))
    out, err := r.wait(ctx, *in)
    end(err)
    if err != nil {
        obsmetrics.RemoteWaits.WithLabelValues("grpc", "rejected").Inc()
        if errors.Is(err, transport.ErrInvalidRequest) { return nil, status.Error(codes.InvalidArgument, err.Error()) }
        return nil, status.Error(codes.Internal, err.Error())
    }
    obsmetrics.RemoteWaits.WithLabelValues("grpc", out.State).Inc()
    if rd, rerr := r.readiness(ctx); rerr == nil { r.server.SetServing(rd.HasRequiredWorkers) }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Readiness_serviceDesc = grpc.ServiceDesc{
    ServiceName: ServiceName,
    HandlerType: (*readinessServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetReadiness", Handler: _Readiness_GetReadiness_Handler},
        {MethodName: "Wait", Handler: _Readiness_Wait_Handler},
    },
}

func _Readiness_GetReadiness_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(readinessServer).GetReadiness(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetReadiness"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(readinessServer).GetReadiness(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Readiness_Wait_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.WaitRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(readinessServer).Wait(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Wait"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(readinessServer).Wait(ctx, req.(*transport.WaitRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, readiness transport.ReadinessFunc, wait transport.WaitFunc) error {
    if readiness == nil { return errors.New("grpc: nil readiness func") }
    obsmetrics.Register()
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // Force JSON codec to avoid requiring protobuf types
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&_Readiness_serviceDesc, &readinessImpl{readiness: readiness, wait: wait, server: s})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.bind = lis.Addr().String()
    s.mu.Unlock()
    if rd, err := readiness(ctx); err == nil { s.SetServing(rd.HasRequiredWorkers) } else { s.SetServing(false) }

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// SetServing publishes readiness through the grpc health service, for both
// the overall server ("") and ServiceName.
func (s *Server) SetServing(ready bool) {
    s.mu.Lock()
    hs := s.health
    s.mu.Unlock()
    if hs == nil { return }
    st := healthpb.HealthCheckResponse_NOT_SERVING
    if ready { st = healthpb.HealthCheckResponse_SERVING }
    hs.SetServingStatus("", st)
    hs.SetServingStatus(ServiceName, st)
}

func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.bind
}

// Stop drains in-flight calls, falling back to a hard stop after 2s or when
// ctx is done.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, lis, hs := s.srv, s.lis, s.health
    s.srv, s.lis, s.health = nil, nil, nil
    s.mu.Unlock()
    if srv == nil { return nil }
    hs.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    case <-time.After(2 * time.Second):
        srv.Stop()
    }
    if lis != nil { _ = lis.Close() }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
