package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/validation"
)

// ServiceName is reported by the liveness endpoint.
const ServiceName = "Webhook Bagy-MelhorEnvio"

// Stats is the per-state order count exposed by /health and /stats.
type Stats struct {
	Created   int `json:"created"`
	Shipped   int `json:"shipped"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

func statsFrom(counts map[orders.State]int) Stats {
	s := Stats{
		Created:   counts[orders.StateCreated],
		Shipped:   counts[orders.StateShipped],
		Delivered: counts[orders.StateDelivered],
		Failed:    counts[orders.StateFailed],
	}
	s.Total = s.Created + s.Shipped + s.Delivered + s.Failed
	return s
}

func (h *handler) root(c *gin.Context) {
	if c.Query("order") != "" || c.Query("id") != "" {
		h.webhookByID(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": ServiceName,
		"message": "service running and tracking orders",
		"version": "1.0",
	})
}

func (h *handler) health(c *gin.Context) {
	counts, err := h.cfg.Store.CountByState(c.Request.Context())
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	info := h.cfg.Health
	status := "healthy"
	if !info.SourceTokenConfigured || !info.ShippingTokenConfigured {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"configuration": gin.H{
			"bagy_token_configured":        info.SourceTokenConfigured,
			"melhorenvio_token_configured": info.ShippingTokenConfigured,
			"sender_zipcode":               info.SenderZipcode,
			"service_id":                   info.ServiceID,
			"service_name":                 info.ServiceName,
			"tracker_interval":             int(info.TrackerInterval.Seconds()),
			"store_driver":                 info.StoreDriver,
			"dispatch_mode":                info.DispatchMode,
		},
		"database": gin.H{
			"stats": statsFrom(counts),
		},
	})
}

func (h *handler) stats(c *gin.Context) {
	counts, err := h.cfg.Store.CountByState(c.Request.Context())
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"statistics": statsFrom(counts),
		"timestamp":  h.now().UTC().Format(time.RFC3339),
	})
}

// testWebhook ingests a canned invoiced order.
func (h *handler) testWebhook(c *gin.Context) {
	p := SamplePayload(h.now())
	h.logger.Info("ingesting sample webhook", zap.String("order_id", string(p.ID)))
	h.ingest(c, p)
}

// SamplePayload returns a valid invoiced order with a unique id.
func SamplePayload(now time.Time) validation.WebhookPayload {
	return validation.WebhookPayload{
		ID:                validation.Text("TEST-" + now.Format("20060102-150405")),
		FulfillmentStatus: "invoiced",
		Total:             150,
		Customer: &validation.Customer{
			Name:     "Cliente Teste",
			Email:    "teste@example.com",
			Phone:    "11999999999",
			Document: "12345678909",
		},
		Address: &validation.Address{
			Street:     "Avenida Paulista",
			Number:     "1000",
			Complement: "Apto 45",
			District:   "Bela Vista",
			City:       "São Paulo",
			State:      "SP",
			Zipcode:    "01310-100",
		},
		Items: []validation.Item{{
			Name:     "Produto Teste",
			Quantity: 1,
			Price:    150,
			Weight:   0.5,
			Length:   20,
			Width:    15,
			Height:   10,
		}},
	}
}
