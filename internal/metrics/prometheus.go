package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faqbot_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "route"},
	)

	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_backend_requests_total",
			Help: "Total backend requests by outcome",
		},
		[]string{"method", "route", "outcome"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faqbot_backend_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	SessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_session_events_total",
			Help: "Session lifecycle events",
		},
		[]string{"event"},
	)

	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "faqbot_query_duration_seconds",
			Help:    "Question answering round-trip in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_query_total",
			Help: "Total questions asked",
		},
		[]string{"status"},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faqbot_confidence_score",
			Help:    "Answer confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"band"},
	)

	BotsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faqbot_bots",
			Help: "Bots in the last registry snapshot by status",
		},
		[]string{"status"},
	)

	ChannelServiceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faqbot_channel_service_running",
			Help: "1 when the channel integration service is running",
		},
		[]string{"channel"},
	)

	ChannelBindings = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "faqbot_channel_bindings",
			Help: "Registered channel bindings",
		},
		[]string{"channel"},
	)

	ContentOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_content_operations_total",
			Help: "Content store operations",
		},
		[]string{"op"},
	)

	GatewayRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_gateway_rejections_total",
			Help: "Requests rejected by gateway middleware",
		},
		[]string{"reason"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_cache_hits_total",
			Help: "Total snapshot cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faqbot_cache_misses_total",
			Help: "Total snapshot cache misses",
		},
		[]string{"cache_type"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			BackendRequestDuration,
			BackendRequests,
			BreakerState,
			SessionEvents,
			QueryDuration,
			QueryTotal,
			ConfidenceScore,
			BotsByStatus,
			ChannelServiceRunning,
			ChannelBindings,
			ContentOperations,
			GatewayRejections,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
