// Package metrics holds the Prometheus collectors updated by the catalog
// engine. They register with the default registry and are served by the
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_commits_total",
		Help: "Total number of commit attempts by outcome.",
	}, []string{"result"})

	Merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_merges_total",
		Help: "Total number of merges by kind (fast_forward, merge_commit, up_to_date, failed).",
	}, []string{"kind"})

	Conflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_conflicts_total",
		Help: "Total number of lost compare-and-advance races.",
	}, []string{"op"})

	ReferenceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_reference_ops_total",
		Help: "Total number of reference mutations by operation.",
	}, []string{"op"})

	Resolves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_resolves_total",
		Help: "Total number of pointer resolutions by pointer form.",
	}, []string{"form"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commitcatalog_operation_duration_seconds",
		Help:    "Duration of catalog engine operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commitcatalog_sessions_active",
		Help: "Number of open client sessions.",
	})

	WarehouseOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commitcatalog_warehouse_ops_total",
		Help: "Total number of warehouse ingests and queries by outcome.",
	}, []string{"op", "result"})

	WarehouseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commitcatalog_warehouse_duration_seconds",
		Help:    "Duration of warehouse ingests and queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

// Result labels used with Commits.
const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultError    = "error"
)
