package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-readiness/pkg/observability/metrics"
    "github.com/amirimatin/go-readiness/pkg/observability/tracing"
    "github.com/amirimatin/go-readiness/pkg/transport"
)

// Server exposes the readiness management endpoints over HTTP/JSON:
// /readiness, /wait, /healthz and /metrics.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":17946").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler builds the management mux. It is exported for tests and for
// embedding into an existing HTTP server.
func Handler(readiness transport.ReadinessFunc, wait transport.WaitFunc) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.readiness")
        rd, err := readiness(ctx)
        end(err)
        if err != nil { http.Error(w, fmt.Sprintf("readiness error: %v", err), http.StatusInternalServerError); return }
        writeJSON(w, http.StatusOK, rd)
    })
    mux.HandleFunc("/wait", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if wait == nil { http.Error(w, "wait not supported", http.StatusNotImplemented); return }
        q := r.URL.Query()
        req := transport.WaitRequest{Role: q.Get("role")}
        if v := q.Get("timeout"); v != "" {
            d, err := time.ParseDuration(v)
            if err != nil || d < 0 {
                writeJSON(w, http.StatusBadRequest, transport.WaitResponse{Error: fmt.Sprintf("bad timeout %q", v)})
                return
            }
            req.Timeout = d
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.wait", attribute.String("role", req.Role))
        // r.Context() is cancelled when the client goes away; the WaitFunc
        // cancels its handle in that case.
        resp, err := wait(ctx, req)
        end(err)
        if err != nil {
            code := http.StatusInternalServerError
            if errors.Is(err, transport.ErrInvalidRequest) { code = http.StatusBadRequest }
            if resp.Error == "" { resp.Error = err.Error() }
            obsmetrics.RemoteWaits.WithLabelValues("http", "rejected").Inc()
            writeJSON(w, code, resp)
            return
        }
        obsmetrics.RemoteWaits.WithLabelValues("http", resp.State).Inc()
        if !resp.Ready {
            writeJSON(w, http.StatusServiceUnavailable, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server. The server is shut down when ctx is done.
func (s *Server) Start(ctx context.Context, readiness transport.ReadinessFunc, wait transport.WaitFunc) error {
    if readiness == nil { return errors.New("httpjson: nil readiness func") }
    obsmetrics.Register()
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.bind = ln.Addr().String()
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.srv = &http.Server{Handler: Handler(readiness, wait), ReadHeaderTimeout: 5 * time.Second}
    srv := s.srv

    go func() {
        <-ctx.Done()
        c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = srv.Shutdown(c)
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            logutil.Errorf(s.logger, "httpjson: server error: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address; after Start it reflects the actual port.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown. Pending /wait requests see their
// context cancelled when the connection closes.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    if errors.Is(err, context.DeadlineExceeded) { err = s.srv.Close() }
    s.srv = nil
    return err
}

var _ transport.RPCServer = (*Server)(nil)
