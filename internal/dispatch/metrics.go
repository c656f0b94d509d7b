package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_publish_total",
		Help: "Publish attempts by platform and outcome.",
	}, []string{"platform", "outcome"})

	publishLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_publish_latency_seconds",
		Help:    "Per-platform publish latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"platform"})

	feedCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_feed_cache_hits_total",
		Help: "Aggregated feed reads served from cache.",
	})

	feedCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_feed_cache_misses_total",
		Help: "Aggregated feed reads that went to the platforms.",
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_rate_limited_total",
		Help: "Operations denied admission by the rate limiter.",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_result_events_dropped_total",
		Help: "Result events dropped by the bounded queue.",
	})
)
