package qct

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts tile decoding and cache activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TilesDecoded *prometheus.CounterVec
	TileFailures *prometheus.CounterVec
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TilesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qct",
			Name:      "tiles_decoded_total",
			Help:      "Tiles decoded, by compression scheme.",
		}, []string{"scheme"}),
		TileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qct",
			Name:      "tile_failures_total",
			Help:      "Tiles left blank because they could not be decoded.",
		}, []string{"scheme"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qct",
			Name:      "tile_cache_hits_total",
			Help:      "Decoded tiles served from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qct",
			Name:      "tile_cache_misses_total",
			Help:      "Decoded tiles not found in the cache.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.TilesDecoded, m.TileFailures, m.CacheHits, m.CacheMisses)
	}
	return m
}

func (m *Metrics) tileDecoded(scheme string) {
	if m != nil {
		m.TilesDecoded.WithLabelValues(scheme).Inc()
	}
}

func (m *Metrics) tileFailed(scheme string) {
	if m != nil {
		m.TileFailures.WithLabelValues(scheme).Inc()
	}
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}
