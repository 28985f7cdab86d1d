// Package bagy is the Bagy (Dooca) order platform client.
package bagy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
)

// Name identifies this gateway in errors and metrics.
const Name = "bagy"

// Carrier is reported to Bagy as the shipping carrier.
const Carrier = "Melhor Envio"

// Client calls the Bagy API.
type Client struct {
	http *gateway.Client
}

// New returns a client for baseURL (e.g. https://api.dooca.store).
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{http: gateway.NewClient(Name, baseURL, token, timeout)}
}

// WithHTTPClient swaps the underlying *http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.HTTP = hc
	return c
}

type shippedBody struct {
	ShippingCode    string `json:"shipping_code"`
	ShippingCarrier string `json:"shipping_carrier"`
}

// MarkShipped sets the order fulfillment to shipped with its tracking code.
func (c *Client) MarkShipped(ctx context.Context, orderID, trackingCode string) error {
	body := shippedBody{ShippingCode: trackingCode, ShippingCarrier: Carrier}
	return c.http.Do(ctx, "mark_shipped", http.MethodPut, orderPath(orderID)+"/fulfillment/shipped", body, nil)
}

// MarkDelivered sets the order fulfillment to delivered.
func (c *Client) MarkDelivered(ctx context.Context, orderID string) error {
	return c.http.Do(ctx, "mark_delivered", http.MethodPut, orderPath(orderID)+"/fulfillment/delivered", nil, nil)
}

// FetchOrder returns the order document as Bagy serves it.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.http.Do(ctx, "fetch_order", http.MethodGet, orderPath(orderID), nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func orderPath(orderID string) string {
	return "/orders/" + url.PathEscape(orderID)
}
