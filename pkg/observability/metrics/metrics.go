package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ActiveNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "readiness",
        Name:      "active_nodes",
        Help:      "Active nodes per role as seen by the readiness monitor",
    }, []string{"role"})

    PendingWaits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "readiness",
        Name:      "pending_waits",
        Help:      "Registered waits that are not resolved yet, per role",
    }, []string{"role"})

    WaitResults = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "readiness",
        Name:      "wait_results_total",
        Help:      "Resolved waits per role and result (immediate, succeeded, timed_out, cancelled, shutdown)",
    }, []string{"role", "result"})

    SnapshotsApplied = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "readiness",
        Name:      "snapshots_applied_total",
        Help:      "Total number of membership snapshots applied by the monitor",
    })

    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "readiness",
        Name:      "members_total",
        Help:      "Current number of members in the gossip view",
    })

    RemoteWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "readiness",
        Subsystem: "mgmt",
        Name:      "wait_requests_total",
        Help:      "Wait requests served by the management endpoints",
    }, []string{"proto", "result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "readiness",
        Subsystem: "mgmt",
        Name:      "grpc_conn_dials_total",
        Help:      "Client connections dialed by the gRPC connection manager",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "readiness",
        Subsystem: "mgmt",
        Name:      "grpc_conn_reuse_total",
        Help:      "Dials discarded in favour of a connection another caller created first",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "readiness",
        Subsystem: "mgmt",
        Name:      "grpc_conn_evictions_total",
        Help:      "Idle connections closed by the connection manager",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "readiness",
        Subsystem: "mgmt",
        Name:      "grpc_conn_active",
        Help:      "Cached gRPC client connections",
    })
)

// Wait results.
const (
    ResultImmediate = "immediate"
    ResultSucceeded = "succeeded"
    ResultTimedOut  = "timed_out"
    ResultCancelled = "cancelled"
    ResultShutdown  = "shutdown"
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ActiveNodes)
        prometheus.MustRegister(PendingWaits)
        prometheus.MustRegister(WaitResults)
        prometheus.MustRegister(SnapshotsApplied)
        prometheus.MustRegister(ClusterMembers)
        prometheus.MustRegister(RemoteWaits)
        prometheus.MustRegister(GRPCConnDials, GRPCConnReuse, GRPCConnEvictions, GRPCConnActive)
    })
}
