package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Ingestions counts webhook ingestion outcomes by reason
	Ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_ingestions_total", Help: "Webhook ingestions by result reason."},
		[]string{"reason"},
	)
	// ShipmentAttempts counts shipment creation attempts by outcome
	ShipmentAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "shipment_attempts_total", Help: "Shipment creation attempts by outcome."},
		[]string{"outcome"},
	)
	// SourceNotifications counts source platform updates by operation and outcome
	SourceNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "source_notifications_total", Help: "Source platform fulfillment updates."},
		[]string{"operation", "outcome"},
	)
	// ReconcileOrders counts per-order reconciler results
	ReconcileOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconcile_orders_total", Help: "Orders examined by the tracking reconciler by result."},
		[]string{"result"},
	)
	// ReconcileDuration records reconciler cycle durations in seconds
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "reconcile_cycle_duration_seconds", Help: "Tracking reconciler cycle duration.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300}},
	)
	// OrdersByState is the latest observed order count per state
	OrdersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "orders_by_state", Help: "Orders per fulfillment state."},
		[]string{"state"},
	)
	// BreakerState exposes circuit breaker state per gateway (0 closed, 1 half-open, 2 open)
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "gateway_circuit_breaker_state", Help: "Circuit breaker state per remote gateway."},
		[]string{"gateway"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Ingestions)
		Registry.MustRegister(ShipmentAttempts)
		Registry.MustRegister(SourceNotifications)
		Registry.MustRegister(ReconcileOrders)
		Registry.MustRegister(ReconcileDuration)
		Registry.MustRegister(OrdersByState)
		Registry.MustRegister(BreakerState)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request count and latency per matched route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
