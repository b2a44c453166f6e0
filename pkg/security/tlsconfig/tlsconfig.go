package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// reloadTTL bounds how long a loaded key pair is reused before the files are
// read again.
const reloadTTL = 10 * time.Second

// Options configures TLS for the management endpoints. With Enable false
// every constructor returns a nil config, which callers treat as plaintext.
type Options struct {
    Enable             bool   `yaml:"enable"`
    CAFile             string `yaml:"ca_file"`
    CertFile           string `yaml:"cert_file"`
    KeyFile            string `yaml:"key_file"`
    InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
    ServerName         string `yaml:"server_name"`
    // Reload re-reads the key pair from disk on handshakes so certificates
    // can be rotated without a restart.
    Reload bool `yaml:"reload"`
}

// Server returns a server config. A CAFile turns on mutual TLS.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tlsconfig: server cert and key required when TLS is enabled")
    }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.ClientCAs = pool
        cfg.ClientAuth = tls.RequireAndVerifyClientCert
    }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if o.Reload {
        cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return kp.get() }
        return cfg, nil
    }
    cert, err := kp.get()
    if err != nil { return nil, err }
    cfg.Certificates = []tls.Certificate{*cert}
    return cfg, nil
}

// Client returns a client config. The client certificate is optional.
func (o Options) Client() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: o.InsecureSkipVerify, ServerName: o.ServerName} //nolint:gosec
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    if o.CertFile == "" || o.KeyFile == "" { return cfg, nil }
    kp := &keyPair{cert: o.CertFile, key: o.KeyFile}
    if o.Reload {
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return kp.get() }
        return cfg, nil
    }
    cert, err := kp.get()
    if err != nil { return nil, err }
    cfg.Certificates = []tls.Certificate{*cert}
    return cfg, nil
}

func loadPool(caFile string) (*x509.CertPool, error) {
    pem, err := os.ReadFile(caFile)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(pem) {
        return nil, fmt.Errorf("tlsconfig: no certificates in %s", caFile)
    }
    return pool, nil
}

// keyPair caches a certificate loaded from disk for reloadTTL.
type keyPair struct {
    cert, key string

    mu       sync.Mutex
    cached   *tls.Certificate
    loadedAt time.Time
}

func (k *keyPair) get() (*tls.Certificate, error) {
    k.mu.Lock()
    defer k.mu.Unlock()
    if k.cached != nil && time.Since(k.loadedAt) < reloadTTL { return k.cached, nil }
    cert, err := tls.LoadX509KeyPair(k.cert, k.key)
    if err != nil { return nil, err }
    k.cached, k.loadedAt = &cert, time.Now()
    return k.cached, nil
}
