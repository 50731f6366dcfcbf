package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "avatar"

// Resolution kinds.
const (
	KindFallback   = "fallback"
	KindGravatar   = "gravatar"
	KindAttachment = "attachment"
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	Resolutions   *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	StaleWrites   prometheus.Counter
	Invalidations prometheus.Counter
	Evicted       prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Avatar URLs computed on cache miss, by resolved kind",
			},
			[]string{"kind"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Redirect cache lookups by result",
			},
			[]string{"result"},
		),
		StaleWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "stale_writes_total",
			Help:      "Cache writes dropped because the avatar changed while resolving",
		}),
		Invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Avatar key invalidations",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evicted_entries_total",
			Help:      "Cache entries removed by invalidation",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Resolutions, m.CacheLookups, m.StaleWrites, m.Invalidations, m.Evicted)
	}
	return m
}
