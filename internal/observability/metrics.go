package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FilterRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "filter_requests_total",
		Help:      "Filter requests by the tier that produced the result",
	}, []string{"method", "outcome"})

	FilterDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gallery",
		Name:      "filter_duration_seconds",
		Help:      "End-to-end filter latency",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"method"})

	TierInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "filter_tier_invocations_total",
		Help:      "Number of times each filter tier ran",
	}, []string{"tier"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "match_cache_lookups_total",
		Help:      "Match cache lookups by result",
	}, []string{"result"})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Name:      "match_cache_entries",
		Help:      "Entries currently held by the match cache",
	})

	DirectoryCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "face_directory_calls_total",
		Help:      "Face directory calls by operation and outcome",
	}, []string{"op", "outcome"})

	DirectoryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gallery",
		Name:      "face_directory_duration_seconds",
		Help:      "Face directory call latency including rate limiter wait",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"op"})

	PhotoFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "live_photo_failures_total",
		Help:      "Photos skipped by the live matcher",
	}, []string{"reason"})

	MappingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Name:      "preindex_mapping_entries",
		Help:      "Entries in the loaded pre-index mapping",
	})

	PreIndexPhotos = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gallery",
		Name:      "preindex_photos_total",
		Help:      "Photos processed by the pre-index builder",
	}, []string{"outcome"})

	PreIndexQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Name:      "preindex_queue_depth",
		Help:      "Pending pre-index jobs in the PREINDEX stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gallery",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gallery",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
