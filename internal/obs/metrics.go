package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "wsgate_active_sessions", Help: "Currently open tunnel sessions"})
	SessionsTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "wsgate_sessions_total", Help: "Sessions accepted since start"})
	DialAttemptsTotal      = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsgate_dial_attempts_total", Help: "TCP dial attempts by result"}, []string{"result"})
	DialFallbacksTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "wsgate_dial_fallbacks_total", Help: "Dial attempts that advanced to a fallback host"})
	ResolverLookupsTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsgate_resolver_lookups_total", Help: "Resolver backend lookups by backend and result"}, []string{"backend", "result"})
	ResolverCacheHits      = promauto.NewCounter(prometheus.CounterOpts{Name: "wsgate_resolver_cache_hits_total", Help: "Resolver cache hits"})
	ResolverCacheMisses    = promauto.NewCounter(prometheus.CounterOpts{Name: "wsgate_resolver_cache_misses_total", Help: "Resolver cache misses, stale entries included"})
	BytesPumpedTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsgate_bytes_pumped_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "wsgate_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "wsgate_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
