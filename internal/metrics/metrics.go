package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh pipeline counters, labelled by job name.
var (
	RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapgrid_refresh_runs_total",
		Help: "Completed refresh invocations per job.",
	}, []string{"job"})

	RefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapgrid_refresh_errors_total",
		Help: "Refresh invocations that returned an error.",
	}, []string{"job"})

	RefreshSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapgrid_refresh_skipped_total",
		Help: "Triggers dropped because a previous run was still in flight.",
	}, []string{"job"})

	LastRefreshUnix = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swapgrid_last_refresh_timestamp_seconds",
		Help: "Unix time of the last completed refresh per job.",
	}, []string{"job"})
)

// Storage and upstream counters.
var (
	RowsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapgrid_rows_upserted_total",
		Help: "Bucket rows written per grid.",
	}, []string{"grid"})

	UpstreamQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapgrid_upstream_queries_total",
		Help: "Upstream analytics executions by outcome.",
	}, []string{"outcome"})
)

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
