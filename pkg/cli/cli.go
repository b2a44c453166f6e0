package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-readiness/pkg/bootstrap"
    "github.com/amirimatin/go-readiness/pkg/internal/logutil"
    tracing "github.com/amirimatin/go-readiness/pkg/observability/tracing"
    tlsx "github.com/amirimatin/go-readiness/pkg/security/tlsconfig"
    "github.com/amirimatin/go-readiness/pkg/transport"
)

// AddAll attaches the readiness subcommands (run/status/wait) to root.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewRunCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewWaitCmd())
}

// NewReadinessCommand returns a parent command "readiness" containing
// run/status/wait, for services embedding the CLI.
func NewReadinessCommand() *cobra.Command {
    parent := &cobra.Command{Use: "readiness", Short: "cluster readiness commands"}
    AddAll(parent)
    return parent
}

// bindRunFlags registers the node flags on fs, writing into cfg. Defaults are
// cfg's current values.
func bindRunFlags(fs *pflag.FlagSet, cfg *bootstrap.Config) {
    fs.StringVar(&cfg.NodeID, "id", cfg.NodeID, "node id (default: random uuid)")
    fs.StringVar(&cfg.Roles, "roles", cfg.Roles, "comma-separated roles: worker,coordinator,resource_manager,coordinator_sidecar")
    fs.StringVar(&cfg.MemBind, "mem-bind", cfg.MemBind, "membership bind addr (host:port)")
    fs.StringVar(&cfg.MemAdv, "mem-adv", cfg.MemAdv, "membership advertise addr (host:port, optional)")
    fs.StringVar(&cfg.MgmtAddr, "mgmt-addr", cfg.MgmtAddr, "management address (tcp), separate from membership port")
    fs.StringVar(&cfg.MgmtProto, "mgmt-proto", cfg.MgmtProto, "management RPC protocol: http|grpc")
    fs.DurationVar(&cfg.RejoinInterval, "rejoin-interval", cfg.RejoinInterval, "retry seeds at this interval while no peers are visible (0 disables)")
    fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "enable OpenTelemetry stdout tracing (dev)")

    d := &cfg.Discovery
    fs.StringVar((*string)(&d.Kind), "discovery", string(d.Kind), "discovery backend: static|dns|file")
    fs.StringVar(&d.Seeds, "join", d.Seeds, "comma-separated seed nodes (host:port), used by discovery=static")
    fs.StringVar(&d.Names, "dns-names", d.Names, "comma-separated DNS names or SRV records (e.g., _gossip._tcp.example.com)")
    fs.IntVar(&d.Port, "dns-port", d.Port, "port used for A/AAAA lookups")
    fs.StringVar(&d.Path, "file-path", d.Path, "path or glob to a file with seeds (one per line or CSV)")
    fs.StringVar(&d.Env, "file-env", d.Env, "ENV var name containing CSV seeds; overrides file when set")
    fs.DurationVar(&d.Refresh, "disc-refresh", d.Refresh, "discovery refresh/cache duration")

    bindTLSFlags(fs, &cfg.TLS)

    m := &cfg.Monitor
    fs.BoolVar(&m.IncludeCoordinator, "include-coordinator", m.IncludeCoordinator, "count coordinators and resource managers as workers")
    fs.IntVar(&m.RequiredWorkers, "required-workers", m.RequiredWorkers, "workers a wait needs")
    fs.IntVar(&m.RequiredWorkersActive, "required-workers-active", m.RequiredWorkersActive, "workers the synchronous check needs")
    fs.DurationVar(&m.RequiredWorkersMaxWait, "workers-max-wait", m.RequiredWorkersMaxWait, "maximum wait for workers")
    fs.IntVar(&m.RequiredCoordinators, "required-coordinators", m.RequiredCoordinators, "coordinators a wait needs")
    fs.IntVar(&m.RequiredCoordinatorsActive, "required-coordinators-active", m.RequiredCoordinatorsActive, "coordinators the synchronous check needs")
    fs.DurationVar(&m.RequiredCoordinatorsMaxWait, "coordinators-max-wait", m.RequiredCoordinatorsMaxWait, "maximum wait for coordinators")
    fs.IntVar(&m.RequiredResourceManagersActive, "required-resource-managers-active", m.RequiredResourceManagersActive, "resource managers the synchronous check needs")
    fs.BoolVar(&m.CoordinatorSidecarEnabled, "coordinator-sidecars", m.CoordinatorSidecarEnabled, "enable waits for coordinator sidecars")
    fs.DurationVar(&m.RequiredCoordinatorSidecarsMaxWait, "sidecars-max-wait", m.RequiredCoordinatorSidecarsMaxWait, "maximum wait for coordinator sidecars")
}

func bindTLSFlags(fs *pflag.FlagSet, o *tlsx.Options) {
    fs.BoolVar(&o.Enable, "tls-enable", o.Enable, "enable mTLS for management transport")
    fs.StringVar(&o.CAFile, "tls-ca", o.CAFile, "path to CA cert (PEM)")
    fs.StringVar(&o.CertFile, "tls-cert", o.CertFile, "path to certificate (PEM)")
    fs.StringVar(&o.KeyFile, "tls-key", o.KeyFile, "path to private key (PEM)")
    fs.BoolVar(&o.InsecureSkipVerify, "tls-skip-verify", o.InsecureSkipVerify, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&o.ServerName, "tls-server-name", o.ServerName, "expected server name (for TLS validation)")
    fs.BoolVar(&o.Reload, "tls-reload", o.Reload, "re-read certificates from disk to allow rotation")
}

// resolveRunConfig returns flagCfg, or the file at path with every flag the
// user set explicitly applied on top.
func resolveRunConfig(fs *pflag.FlagSet, flagCfg bootstrap.Config, path string) (bootstrap.Config, error) {
    if path == "" { return flagCfg, nil }
    cfg, err := bootstrap.LoadFile(path)
    if err != nil { return cfg, err }
    overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
    bindRunFlags(overlay, &cfg)
    var setErr error
    fs.Visit(func(f *pflag.Flag) {
        if overlay.Lookup(f.Name) == nil || setErr != nil { return }
        setErr = overlay.Set(f.Name, f.Value.String())
    })
    return cfg, setErr
}

// NewRunCmd returns the "run" command used to start a readiness node.
func NewRunCmd() *cobra.Command {
    cfg := bootstrap.DefaultConfig()
    var configPath string
    cmd := &cobra.Command{
        Use:   "run",
        Short: "Run a readiness node",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := resolveRunConfig(cmd.Flags(), cfg, configPath)
            if err != nil { return err }
            cfg.Logger = log.Default()
            ctx, cancel := signalContext()
            defer cancel()

            if cfg.Trace {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    logutil.Warnf(cfg.Logger, "tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            n, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            fmt.Fprintf(cmd.OutOrStdout(), "node %s running (mgmt %s). Press Ctrl+C to exit.\n", n.ID(), n.MgmtAddr())
            <-ctx.Done()
            sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
            defer scancel()
            return n.Stop(sctx)
        },
    }
    cmd.Flags().StringVar(&configPath, "config", "", "YAML config file; explicit flags override it")
    bindRunFlags(cmd.Flags(), &cfg)
    return cmd
}

// clientFlags are shared by the commands that call a node.
type clientFlags struct {
    addr      string
    mgmtProto string
    timeout   time.Duration
    tls       tlsx.Options
}

func (c *clientFlags) bind(fs *pflag.FlagSet, timeout time.Duration) {
    fs.StringVar(&c.addr, "addr", "127.0.0.1:17946", "management address of a node (host:port)")
    fs.StringVar(&c.mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    fs.DurationVar(&c.timeout, "timeout", timeout, "request timeout")
    bindTLSFlags(fs, &c.tls)
}

func (c *clientFlags) client() (transport.RPCClient, error) {
    cl, err := bootstrap.NewClient(bootstrap.Config{MgmtProto: c.mgmtProto, TLS: c.tls}, c.timeout)
    if err != nil { return nil, fmt.Errorf("client config: %w", err) }
    return cl, nil
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var cf clientFlags
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch node readiness as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            defer client.Close()
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
            defer cancel()
            rd, err := client.GetReadiness(ctx, cf.addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            enc := json.NewEncoder(cmd.OutOrStdout())
            enc.SetIndent("", "  ")
            return enc.Encode(rd)
        },
    }
    cf.bind(cmd.Flags(), 3*time.Second)
    return cmd
}

// NewWaitCmd returns the "wait" command. It exits non-zero unless the wait
// succeeds, which makes it usable as a startup gate in scripts.
func NewWaitCmd() *cobra.Command {
    var (
        cf   clientFlags
        role string
    )
    cmd := &cobra.Command{
        Use:   "wait",
        Short: "Block until a node reports the minimum number of nodes for a role",
        RunE: func(cmd *cobra.Command, args []string) error {
            client, err := cf.client()
            if err != nil { return err }
            defer client.Close()
            ctx, cancel := context.WithTimeout(context.Background(), cf.timeout+2*time.Second)
            defer cancel()
            resp, err := client.Wait(ctx, cf.addr, transport.WaitRequest{Role: role, Timeout: cf.timeout})
            if err != nil { return fmt.Errorf("wait error: %w", err) }
            if err := json.NewEncoder(cmd.OutOrStdout()).Encode(resp); err != nil { return err }
            if !resp.Ready { return fmt.Errorf("%s not ready: %s", role, resp.Error) }
            return nil
        },
    }
    cmd.Flags().StringVar(&role, "role", "worker", "role to wait for: worker|coordinator|coordinator_sidecar")
    cf.bind(cmd.Flags(), 5*time.Minute)
    return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
