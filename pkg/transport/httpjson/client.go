package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/amirimatin/go-readiness/pkg/transport"
)

// Client is a thin HTTP client for the management API. GetReadiness retries
// transport errors with backoff; Wait is bounded only by its context.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    timeout   time.Duration
    isTLS     bool
}

// NewClient constructs a Client whose GetReadiness calls time out after
// timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Transport: tr}, transport: tr, timeout: timeout}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

func (c *Client) url(addr, path string, q url.Values) string {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    u := url.URL{Scheme: scheme, Host: addr, Path: path}
    if q != nil { u.RawQuery = q.Encode() }
    return u.String()
}

func (c *Client) GetReadiness(ctx context.Context, addr string) (transport.Readiness, error) {
    var out transport.Readiness
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        body, code, err := c.get(ctx, c.url(addr, "/readiness", nil), c.timeout)
        switch {
        case err != nil:
            lastErr = err
        case code != http.StatusOK:
            return out, fmt.Errorf("readiness status %d: %s", code, string(body))
        default:
            if err := json.Unmarshal(body, &out); err != nil { return out, err }
            return out, nil
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            return out, ctx.Err()
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return out, lastErr
}

// Wait asks addr to wait for req.Role. A 503 answer is a resolved but
// unsuccessful wait and is returned without error; check Ready.
func (c *Client) Wait(ctx context.Context, addr string, req transport.WaitRequest) (transport.WaitResponse, error) {
    var out transport.WaitResponse
    q := url.Values{"role": {req.Role}}
    if req.Timeout > 0 { q.Set("timeout", req.Timeout.String()) }
    body, code, err := c.get(ctx, c.url(addr, "/wait", q), 0)
    if err != nil { return out, err }
    if jerr := json.Unmarshal(body, &out); jerr != nil {
        return out, fmt.Errorf("wait status %d: %s", code, string(body))
    }
    switch code {
    case http.StatusOK, http.StatusServiceUnavailable:
        return out, nil
    default:
        if out.Error != "" { return out, fmt.Errorf("wait status %d: %s", code, out.Error) }
        return out, fmt.Errorf("wait status %d", code)
    }
}

func (c *Client) get(ctx context.Context, u string, timeout time.Duration) ([]byte, int, error) {
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, timeout)
        defer cancel()
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
    if err != nil { return nil, 0, err }
    resp, err := c.httpc.Do(req)
    if err != nil { return nil, 0, err }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil { return nil, resp.StatusCode, err }
    return b, resp.StatusCode, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
    c.transport.CloseIdleConnections()
    return nil
}

var _ transport.RPCClient = (*Client)(nil)
