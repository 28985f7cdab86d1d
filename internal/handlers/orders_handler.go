package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/ingest"
	"github.com/imrishuroy/fulfillment-sync/internal/logger"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/validation"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Ingestor           *ingest.Ingestor
	Source             gateway.Source
	Store              orders.Store
	Health             HealthInfo
	TestWebhookEnabled bool
	Logger             *zap.Logger
}

// HealthInfo is the configuration summary reported by /health.
type HealthInfo struct {
	SourceTokenConfigured   bool          `json:"bagy_token_configured"`
	ShippingTokenConfigured bool          `json:"melhorenvio_token_configured"`
	SenderZipcode           string        `json:"sender_zipcode"`
	ServiceID               int           `json:"service_id"`
	ServiceName             string        `json:"service_name"`
	TrackerInterval         time.Duration `json:"-"`
	StoreDriver             string        `json:"store_driver"`
	DispatchMode            string        `json:"dispatch_mode"`
}

type handler struct {
	cfg    HandlerConfig
	logger *zap.Logger
	now    func() time.Time
}

// RegisterOrdersRoutes registers the webhook and status routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{cfg: cfg, logger: log.Named("http"), now: time.Now}

	for _, path := range []string{"/webhook", "/order", "/"} {
		r.POST(path, h.webhook)
	}
	r.GET("/webhook", h.webhookByID)
	r.GET("/order", h.webhookByID)
	r.GET("/", h.root)

	r.GET("/health", h.health)
	r.GET("/stats", h.stats)
	if cfg.TestWebhookEnabled {
		r.POST("/test-webhook", h.testWebhook)
	}
}

func (h *handler) webhook(c *gin.Context) {
	p, err := validation.BindPayload(c)
	if errors.Is(err, validation.ErrMalformed) || c.Writer.Written() {
		// BindPayload already wrote a 400
		return
	}
	if err != nil {
		// well-formed JSON with the wrong shape is a rejected payload, not a client error
		h.respond(c, ingest.Result{Accepted: false, Reason: ingest.ReasonInvalidPayload, OrderID: string(p.ID), Detail: err.Error()})
		return
	}
	h.ingest(c, p)
}

// webhookByID handles the GET flavour: ?order=<id> or ?id=<id>. The order
// is fetched from the source platform and ingested like a POST.
func (h *handler) webhookByID(c *gin.Context) {
	orderID := c.Query("order")
	if orderID == "" {
		orderID = c.Query("id")
	}
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_order_parameter"})
		return
	}
	ctx := c.Request.Context()
	log := logger.FromContextOr(ctx, h.logger).With(zap.String("order_id", orderID))

	raw, err := h.cfg.Source.FetchOrder(ctx, orderID)
	if err != nil {
		log.Error("fetch order from source failed", zap.Error(err))
		status := http.StatusBadGateway
		var re *gateway.RemoteError
		if errors.As(err, &re) && re.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "fetch_order_failed", "detail": err.Error()})
		return
	}

	p, err := validation.Decode(raw)
	if err != nil {
		log.Warn("source returned an unusable order", zap.Error(err))
		h.respond(c, ingest.Result{Accepted: false, Reason: ingest.ReasonInvalidPayload, OrderID: orderID, Detail: err.Error()})
		return
	}
	h.ingest(c, p)
}

func (h *handler) ingest(c *gin.Context, p validation.WebhookPayload) {
	res, err := h.cfg.Ingestor.Ingest(c.Request.Context(), p)
	if err != nil {
		logger.FromContextOr(c.Request.Context(), h.logger).Error("ingest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable", "order_id": string(p.ID)})
		return
	}
	h.respond(c, res)
}

func (h *handler) respond(c *gin.Context, res ingest.Result) {
	c.JSON(http.StatusOK, res)
}
