package cli

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http/httptest"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/spf13/cobra"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-readiness/pkg/bootstrap"
    "github.com/amirimatin/go-readiness/pkg/transport"
    httpjson "github.com/amirimatin/go-readiness/pkg/transport/httpjson"
)

func fakeNode(t *testing.T, ready bool) string {
    t.Helper()
    readiness := func(context.Context) (transport.Readiness, error) {
        return transport.Readiness{NodeID: "n1", Workers: 2, HasRequiredWorkers: true}, nil
    }
    wait := func(_ context.Context, req transport.WaitRequest) (transport.WaitResponse, error) {
        if ready { return transport.WaitResponse{Ready: true, State: "succeeded"}, nil }
        return transport.WaitResponse{State: "failed", Error: "insufficient active " + req.Role + " nodes", Code: "insufficient_resources"}, nil
    }
    ts := httptest.NewServer(httpjson.Handler(readiness, wait))
    t.Cleanup(ts.Close)
    return strings.TrimPrefix(ts.URL, "http://")
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
    var out bytes.Buffer
    cmd.SetOut(&out)
    cmd.SetErr(&out)
    cmd.SetArgs(args)
    err := cmd.Execute()
    return out.String(), err
}

func TestStatusCmd(t *testing.T) {
    addr := fakeNode(t, true)
    out, err := execute(NewStatusCmd(), "--addr", addr, "--timeout", "2s")
    require.NoError(t, err)
    var rd transport.Readiness
    require.NoError(t, json.Unmarshal([]byte(out), &rd))
    assert.Equal(t, "n1", rd.NodeID)
    assert.Equal(t, 2, rd.Workers)
}

func TestWaitCmd(t *testing.T) {
    out, err := execute(NewWaitCmd(), "--addr", fakeNode(t, true), "--role", "worker", "--timeout", "1s")
    require.NoError(t, err)
    assert.Contains(t, out, `"ready":true`)

    _, err = execute(NewWaitCmd(), "--addr", fakeNode(t, false), "--role", "coordinator", "--timeout", "1s")
    require.Error(t, err)
    assert.Contains(t, err.Error(), "coordinator not ready")
}

func TestResolveRunConfig_FlagsOverrideFile(t *testing.T) {
    path := filepath.Join(t.TempDir(), "node.yaml")
    require.NoError(t, os.WriteFile(path, []byte("roles: coordinator\nmonitor:\n  required_workers: 4\n  required_workers_max_wait: 30s\n"), 0o644))

    cfg := bootstrap.DefaultConfig()
    cmd := &cobra.Command{Use: "run"}
    bindRunFlags(cmd.Flags(), &cfg)
    require.NoError(t, cmd.Flags().Parse([]string{"--required-workers", "2", "--mgmt-proto", "grpc"}))

    got, err := resolveRunConfig(cmd.Flags(), cfg, path)
    require.NoError(t, err)
    assert.Equal(t, "coordinator", got.Roles)
    assert.Equal(t, 2, got.Monitor.RequiredWorkers, "explicit flag wins")
    assert.Equal(t, 30*time.Second, got.Monitor.RequiredWorkersMaxWait, "file value kept")
    assert.Equal(t, "grpc", got.MgmtProto)

    noFile, err := resolveRunConfig(cmd.Flags(), cfg, "")
    require.NoError(t, err)
    assert.Equal(t, "worker", noFile.Roles)
    assert.Equal(t, 2, noFile.Monitor.RequiredWorkers)
}

func TestReadinessCommandTree(t *testing.T) {
    parent := NewReadinessCommand()
    for _, name := range []string{"run", "status", "wait"} {
        c, _, err := parent.Find([]string{name})
        require.NoError(t, err)
        assert.Equal(t, name, c.Name())
    }
}
