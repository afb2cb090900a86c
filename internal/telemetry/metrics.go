// Package telemetry provides application-level observability for the module
// engine.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<SME_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped by a Prometheus server every 15–60 seconds.
// It is NOT served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Migration run counters and duration histograms, by direction and outcome
//   - Rollback execution counters by outcome
//   - Backup creation counters and size histograms
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/modules/:id/versions)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as module or version IDs.  Migration and
// rollback metrics are labelled only by direction and outcome for the same
// reason: installation and module IDs never appear as label values.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Migration engine metrics.
//
// MigrationRunsTotal counts every recorded migration run by direction
// ("up"/"down") and terminal status ("success"/"failed").  An alert on
// rate(migration_runs_total{status="failed"}[30m]) > 0 catches broken
// payloads before tenants report them.
//
// MigrationRunDuration observes wall-clock payload execution time per
// direction.  Migrations routinely take seconds to minutes, so the buckets
// run much longer than the HTTP ones.
//
// Example PromQL queries:
//   - Failure ratio:          sum(rate(migration_runs_total{status="failed"}[1h])) / sum(rate(migration_runs_total[1h]))
//   - p95 up-migration time:  histogram_quantile(0.95, rate(migration_run_duration_seconds_bucket{direction="up"}[6h]))
var (
	MigrationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_runs_total",
			Help: "Total number of migration runs, by direction and terminal status.",
		},
		[]string{"direction", "status"},
	)

	MigrationRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migration_run_duration_seconds",
			Help:    "Histogram of migration payload execution times, by direction.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"direction"},
	)
)

// RollbacksTotal counts completed rollback executions by outcome
// ("success"/"failed").  Rollbacks are rare, deliberate operations: any
// sustained rate here is worth investigating regardless of outcome.
var RollbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rollbacks_total",
		Help: "Total number of rollback executions, by outcome.",
	},
	[]string{"status"},
)

// Backup metrics.
//
// BackupsTotal is labelled by reason ("pre_upgrade", "pre_rollback",
// "manual").  BackupSizeBytes tracks export sizes so capacity planning for
// the blob store has real numbers to work from.
var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backups_total",
			Help: "Total number of tenant data backups created, by reason.",
		},
		[]string{"reason"},
	)

	BackupSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_size_bytes",
			Help:    "Histogram of tenant data backup sizes in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1 KiB .. ~256 MiB
		},
	)
)

// RecordMigrationRun increments the run counter for one terminal migration
// run.
func RecordMigrationRun(direction, status string) {
	MigrationRunsTotal.WithLabelValues(direction, status).Inc()
}

// RecordRollback increments the rollback counter for one completed rollback
// execution.
func RecordRollback(status string) {
	RollbacksTotal.WithLabelValues(status).Inc()
}

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
