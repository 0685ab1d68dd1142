package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ImportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layersync_imports_total",
		Help: "Shapefile imports and updates by kind and outcome",
	}, []string{"kind", "outcome"})
	ImportDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "layersync_import_duration_ms",
		Help:    "Shapefile import and update duration in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	}, []string{"kind"})
	AreasReconciledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layersync_areas_reconciled_total",
		Help: "Areas touched by reconciliation, by result",
	}, []string{"result"})
	GeoServerRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layersync_geoserver_requests_total",
		Help: "GeoServer REST calls by operation and status class",
	}, []string{"op", "status"})
	GeoServerDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "layersync_geoserver_duration_ms",
		Help:    "GeoServer REST call duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"op"})
	PublishCompensationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "layersync_publish_compensations_total",
		Help: "Publishing attempts rolled back after a partial failure",
	})
	TileInvalidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layersync_tile_invalidations_total",
		Help: "Tile cache truncate requests by outcome",
	}, []string{"outcome"})
	CleanupJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "layersync_cleanup_jobs_total",
		Help: "Bucket deletion jobs by outcome",
	}, []string{"outcome"})
	CleanupQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "layersync_cleanup_due_jobs",
		Help: "Due bucket deletion jobs seen by the last cleanup cycle",
	})
	LockWaitMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "layersync_layer_lock_wait_ms",
		Help:    "Time spent waiting for a per layer lock in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	})
)

func init() {
	prometheus.MustRegister(ImportsTotal)
	prometheus.MustRegister(ImportDurationMs)
	prometheus.MustRegister(AreasReconciledTotal)
	prometheus.MustRegister(GeoServerRequestsTotal)
	prometheus.MustRegister(GeoServerDurationMs)
	prometheus.MustRegister(PublishCompensationsTotal)
	prometheus.MustRegister(TileInvalidationsTotal)
	prometheus.MustRegister(CleanupJobsTotal)
	prometheus.MustRegister(CleanupQueueDepth)
	prometheus.MustRegister(LockWaitMs)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// StatusClass buckets an HTTP status code as "2xx", "4xx" and so on;
// 0 means the request never got a response.
func StatusClass(code int) string {
	if code == 0 {
		return "error"
	}
	return string(rune('0'+code/100)) + "xx"
}
