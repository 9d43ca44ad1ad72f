// Package metrics exposes Prometheus collectors for the harvest engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestPagesTotal       prometheus.Counter
	harvestRecordsTotal     *prometheus.CounterVec
	harvestTilesTotal       *prometheus.CounterVec
	harvestFetchRetries     prometheus.Counter
	harvestDeepScansTotal   prometheus.Counter
	harvestDetailSkipsTotal prometheus.Counter
	harvestCursorPosition   prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		harvestPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Total number of search pages fetched and extracted.",
		})

		harvestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_records_persisted_total",
				Help: "Total records written to the state store, labeled by kind.",
			},
			[]string{"kind"},
		)

		harvestTilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_tiles_total",
				Help: "Total tiles handled per run, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvestFetchRetries = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_fetch_retries_total",
			Help: "Total retried provider requests.",
		})

		harvestDeepScansTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_deep_scans_total",
			Help: "Total responses where no known key-path matched and the structural fallback engaged.",
		})

		harvestDetailSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvest_detail_skips_total",
			Help: "Total detail enrichments skipped for this run.",
		})

		harvestCursorPosition = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_cursor_position",
			Help: "Current position of the crawl cursor in the tile list.",
		})
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one extracted search page.
func ObservePage() {
	if harvestPagesTotal != nil {
		harvestPagesTotal.Inc()
	}
}

// ObserveRecord counts one persisted record. kind is "basic" or "detail".
func ObserveRecord(kind string) {
	if harvestRecordsTotal != nil {
		harvestRecordsTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveTile counts one handled tile. outcome is "scraped", "fresh",
// "abandoned" or "invalid".
func ObserveTile(outcome string) {
	if harvestTilesTotal != nil {
		harvestTilesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveRetry counts one retried provider request.
func ObserveRetry() {
	if harvestFetchRetries != nil {
		harvestFetchRetries.Inc()
	}
}

// ObserveDeepScan counts one deep-scan fallback.
func ObserveDeepScan() {
	if harvestDeepScansTotal != nil {
		harvestDeepScansTotal.Inc()
	}
}

// ObserveDetailSkip counts one skipped detail enrichment.
func ObserveDetailSkip() {
	if harvestDetailSkipsTotal != nil {
		harvestDetailSkipsTotal.Inc()
	}
}

// SetCursorPosition records the crawl cursor position.
func SetCursorPosition(position int) {
	if harvestCursorPosition != nil {
		harvestCursorPosition.Set(float64(position))
	}
}
