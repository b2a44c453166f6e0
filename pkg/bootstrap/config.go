package bootstrap

import (
    "bytes"
    "errors"
    "fmt"
    "log"
    "os"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/amirimatin/go-readiness/pkg/discovery"
    "github.com/amirimatin/go-readiness/pkg/membership"
    "github.com/amirimatin/go-readiness/pkg/monitor"
    tlsx "github.com/amirimatin/go-readiness/pkg/security/tlsconfig"
)

var ErrInvalidConfig = errors.New("bootstrap: invalid config")

// Config defines the inputs to assemble a readiness node. Embedders fill it in
// directly, from LoadFile, or from cobra flags (see pkg/cli).
type Config struct {
    // NodeID defaults to a random UUID.
    NodeID string `yaml:"node_id"`
    // Roles is a comma-separated role list advertised through gossip.
    Roles string `yaml:"roles"`

    MemBind string `yaml:"mem_bind"` // membership bind host:port
    MemAdv  string `yaml:"mem_adv"`  // optional advertise host:port

    Discovery discovery.Config `yaml:"discovery"`
    // RejoinInterval is how often a node that sees no peers retries its
    // seeds. Zero disables rejoining.
    RejoinInterval time.Duration `yaml:"rejoin_interval"`

    MgmtAddr  string        `yaml:"mgmt_addr"`
    MgmtProto string        `yaml:"mgmt_proto"` // "http" (default) or "grpc"
    TLS       tlsx.Options  `yaml:"tls"`
    // HealthInterval is how often gauges and the grpc health status are
    // refreshed from the monitor.
    HealthInterval time.Duration `yaml:"health_interval"`

    Trace bool `yaml:"trace"`

    Monitor monitor.Config `yaml:"monitor"`

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns a single-node development setup.
func DefaultConfig() Config {
    return Config{
        Roles:          membership.RoleWorker.String(),
        MemBind:        "0.0.0.0:7946",
        Discovery:      discovery.Config{Kind: discovery.KindStatic, Refresh: 5 * time.Second},
        RejoinInterval: 10 * time.Second,
        MgmtAddr:       ":17946",
        MgmtProto:      "http",
        HealthInterval: time.Second,
        Monitor:        monitor.DefaultConfig(),
    }
}

// LoadFile reads a YAML config on top of DefaultConfig. Unknown keys are
// rejected.
func LoadFile(path string) (Config, error) {
    cfg := DefaultConfig()
    b, err := os.ReadFile(path)
    if err != nil { return cfg, err }
    dec := yaml.NewDecoder(bytes.NewReader(b))
    dec.KnownFields(true)
    if err := dec.Decode(&cfg); err != nil {
        return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
    }
    return cfg, nil
}

// RoleSet parses Roles strictly.
func (c Config) RoleSet() (membership.RoleSet, error) {
    rs, err := membership.ParseRoles(c.Roles)
    if err != nil { return rs, fmt.Errorf("%w: %v", ErrInvalidConfig, err) }
    return rs, nil
}

func (c Config) Validate() error {
    if c.MemBind == "" { return fmt.Errorf("%w: empty mem_bind", ErrInvalidConfig) }
    if c.MgmtAddr == "" { return fmt.Errorf("%w: empty mgmt_addr", ErrInvalidConfig) }
    switch c.MgmtProto {
    case "", "http", "grpc":
    default:
        return fmt.Errorf("%w: mgmt_proto must be http or grpc, got %q", ErrInvalidConfig, c.MgmtProto)
    }
    if _, err := c.RoleSet(); err != nil { return err }
    return c.Monitor.Validate()
}
