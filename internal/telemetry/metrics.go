package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Build pipeline metrics. Registered once at package load on the default
// registry.
var (
	FilesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trellis_files_parsed_total",
		Help: "Source files handed to adapters, by language and outcome.",
	}, []string{"language", "outcome"})

	NodesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_nodes_upserted_total",
		Help: "Graph nodes written across all builds.",
	})

	EdgesUpserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_edges_upserted_total",
		Help: "Graph relationships written across all builds.",
	})

	BatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_batch_retries_total",
		Help: "Persistence batch commit retries.",
	})

	BatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_batches_failed_total",
		Help: "Persistence batches abandoned after retry exhaustion.",
	})

	SchemaViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trellis_schema_violations_total",
		Help: "Nodes or relationships rejected by canonical validation.",
	})

	UnresolvedReferences = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trellis_unresolved_references",
		Help: "Unresolved references after the most recent build.",
	})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trellis_build_duration_seconds",
		Help:    "Wall time of complete build runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})
)

// Serve exposes /metrics on addr in a background goroutine and returns the
// server so callers can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		// ErrServerClosed after Shutdown is the normal path.
		_ = srv.ListenAndServe()
	}()
	return srv
}
