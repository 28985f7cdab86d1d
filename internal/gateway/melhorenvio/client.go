// Package melhorenvio is the Melhor Envio shipping carrier client.
package melhorenvio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
)

// Name identifies this gateway in errors and metrics.
const Name = "melhorenvio"

// NoTracking is stored when the carrier returns neither tracking nor protocol.
const NoTracking = "SEM-RASTREIO"

var deliveredMarkers = []string{"entregue", "delivered", "finalizado"}

// Client calls the Melhor Envio API.
type Client struct {
	http *gateway.Client
}

// New returns a client for baseURL (e.g. https://melhorenvio.com.br/api/v2).
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{http: gateway.NewClient(Name, baseURL, token, timeout)}
}

// WithHTTPClient swaps the underlying *http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http.HTTP = hc
	return c
}

type cartResponse struct {
	ID       flexString `json:"id"`
	Tracking flexString `json:"tracking"`
	Protocol flexString `json:"protocol"`
}

// flexString decodes a JSON string or number; null decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = ""
	case string:
		*f = flexString(t)
	case float64:
		*f = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return fmt.Errorf("unexpected JSON type %T", v)
	}
	return nil
}

// CreateShipment adds the shipment to the account cart.
func (c *Client) CreateShipment(ctx context.Context, req gateway.ShipmentRequest) (gateway.Shipment, error) {
	var resp cartResponse
	if err := c.http.Do(ctx, "create_shipment", http.MethodPost, "/me/cart", req, &resp); err != nil {
		return gateway.Shipment{}, err
	}
	if resp.ID == "" {
		return gateway.Shipment{}, &gateway.RemoteError{
			Gateway:   Name,
			Op:        "create_shipment",
			Permanent: true,
			Err:       errors.New("response carried no shipment id"),
		}
	}

	tracking := string(resp.Tracking)
	if tracking == "" {
		tracking = string(resp.Protocol)
	}
	if tracking == "" {
		tracking = NoTracking
	}
	return gateway.Shipment{ID: string(resp.ID), TrackingCode: tracking}, nil
}

type trackingEntry struct {
	Status string `json:"status"`
}

// TrackingStatus asks the carrier for the shipment's current status.
func (c *Client) TrackingStatus(ctx context.Context, shipmentID string) (gateway.TrackingStatus, error) {
	body := map[string][]string{"orders": {shipmentID}}
	var raw json.RawMessage
	if err := c.http.Do(ctx, "tracking_status", http.MethodPost, "/me/shipment/tracking", body, &raw); err != nil {
		return gateway.TrackingStatus{}, err
	}

	entries, err := parseTracking(raw, shipmentID)
	if err != nil {
		return gateway.TrackingStatus{}, &gateway.RemoteError{Gateway: Name, Op: "tracking_status", Err: err}
	}

	var status gateway.TrackingStatus
	for _, e := range entries {
		s := strings.ToLower(e.Status)
		if status.RawStatus == "" {
			status.RawStatus = s
		}
		if isDelivered(s) {
			return gateway.TrackingStatus{Delivered: true, RawStatus: s}, nil
		}
	}
	return status, nil
}

// parseTracking accepts a list of entries, a single entry, or an object
// keyed by shipment id.
func parseTracking(raw json.RawMessage, shipmentID string) ([]trackingEntry, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []trackingEntry
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode tracking list: %w", err)
		}
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode tracking object: %w", err)
	}
	if _, ok := obj["status"]; ok {
		var single trackingEntry
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, fmt.Errorf("decode tracking entry: %w", err)
		}
		return []trackingEntry{single}, nil
	}
	if nested, ok := obj[shipmentID]; ok {
		var single trackingEntry
		if err := json.Unmarshal(nested, &single); err != nil {
			return nil, fmt.Errorf("decode tracking entry: %w", err)
		}
		return []trackingEntry{single}, nil
	}
	return nil, nil
}

func isDelivered(status string) bool {
	for _, m := range deliveredMarkers {
		if strings.Contains(status, m) {
			return true
		}
	}
	return false
}
