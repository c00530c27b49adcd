package cogserver

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors updated by datasets and servers. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	bytesServed  prometheus.Counter
	tiles        prometheus.Counter
	tileDuration prometheus.Histogram
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
}

// NewMetrics registers the cogserver collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cogserver_requests_total",
			Help: "Number of HTTP requests by status code.",
		}, []string{"code"}),
		bytesServed: f.NewCounter(prometheus.CounterOpts{
			Name: "cogserver_bytes_served_total",
			Help: "Number of body bytes written to clients.",
		}),
		tiles: f.NewCounter(prometheus.CounterOpts{
			Name: "cogserver_tiles_produced_total",
			Help: "Number of tiles read from a source and encoded.",
		}),
		tileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cogserver_tile_duration_seconds",
			Help:    "Time spent reading and encoding a tile.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "cogserver_tile_cache_hits_total",
			Help: "Number of tiles served from the tile cache.",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "cogserver_tile_cache_misses_total",
			Help: "Number of tile cache lookups that missed.",
		}),
	}
}

func (m *Metrics) request(code int, n int64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
	m.bytesServed.Add(float64(n))
}

func (m *Metrics) tileProduced(d time.Duration) {
	if m == nil {
		return
	}
	m.tiles.Inc()
	m.tileDuration.Observe(d.Seconds())
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
