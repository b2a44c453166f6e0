package grpc

import (
    "context"
    "crypto/tls"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-readiness/pkg/transport"
)

// Client calls the readiness service on other nodes, reusing connections
// through a ConnManager.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    cm      *ConnManager
}

// NewClient returns a client whose GetReadiness and Health calls time out
// after timeout. Wait is bounded by its context only.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.cm = NewConnManager(30*time.Second, c.dialCtx)
    return c
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
    // Use JSON codec and set content subtype accordingly.
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.NewClient(target, opts...)
}

func (c *Client) GetReadiness(ctx context.Context, addr string) (transport.Readiness, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    var out transport.Readiness
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return out, err }
    defer rel()
    if err := cc.Invoke(cctx, "/"+ServiceName+"/GetReadiness", &empty{}, &out, grpc.WaitForReady(true)); err != nil { return out, err }
    return out, nil
}

// Wait asks addr to wait for req.Role. Unsuccessful waits are reported in the
// response; rejected requests come back as errors.
func (c *Client) Wait(ctx context.Context, addr string, req transport.WaitRequest) (transport.WaitResponse, error) {
    var out transport.WaitResponse
    cc, rel, err := c.cm.Get(ctx, addr)
    if err != nil { return out, err }
    defer rel()
    if err := cc.Invoke(ctx, "/"+ServiceName+"/Wait", &req, &out, grpc.WaitForReady(true)); err != nil { return out, err }
    return out, nil
}

// Health queries the grpc health service of addr for ServiceName. The server
// forces the JSON codec for every service, health included, so the cached
// JSON connection is used.
func (c *Client) Health(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.cm.Get(cctx, addr)
    if err != nil { return healthpb.HealthCheckResponse_UNKNOWN, err }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: ServiceName}, grpc.WaitForReady(true))
    if err != nil { return healthpb.HealthCheckResponse_UNKNOWN, err }
    return resp.GetStatus(), nil
}

// Close closes all cached connections.
func (c *Client) Close() error {
    c.cm.Close()
    return nil
}

var _ transport.RPCClient = (*Client)(nil)
