package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	stale         *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	entries       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gallery",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"class"})
	}

	return &metrics{
		hits:          counter("hits_total", "Reads served from a fresh entry."),
		misses:        counter("misses_total", "Reads that had to wait for a fetch."),
		stale:         counter("stale_total", "Reads served from a stale entry while it was refetched."),
		invalidations: counter("invalidations_total", "Prefixes invalidated after mutations."),
		fetchErrors:   counter("fetch_errors_total", "Fetches that failed after all retries."),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gallery",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries held after the last sweep.",
		}),
	}
}
