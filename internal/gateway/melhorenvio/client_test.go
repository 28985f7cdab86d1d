package melhorenvio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "me-token", 2*time.Second)
}

func TestCreateShipment(t *testing.T) {
	var got gateway.ShipmentRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/me/cart", r.URL.Path)
		assert.Equal(t, "Bearer me-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id":"9a1b","protocol":"ORD-202401","tracking":null}`))
	})

	req := gateway.ShipmentRequest{
		Service:  2,
		Products: []gateway.Product{{Name: "Pedido #1", Quantity: 1, UnitaryValue: 150}},
		Volumes:  []gateway.Volume{{Height: 10, Width: 15, Length: 20, Weight: 0.5}},
	}
	shipment, err := c.CreateShipment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "9a1b", shipment.ID)
	assert.Equal(t, "ORD-202401", shipment.TrackingCode)
	assert.Equal(t, 2, got.Service)
	assert.Equal(t, "Pedido #1", got.Products[0].Name)
}

func TestCreateShipment_TrackingFallbacks(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":12345}`))
	})
	shipment, err := c.CreateShipment(context.Background(), gateway.ShipmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, "12345", shipment.ID)
	assert.Equal(t, NoTracking, shipment.TrackingCode)
}

func TestCreateShipment_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		permanent bool
	}{
		{"validation error", http.StatusUnprocessableEntity, `{"message":"to.postal_code invalid"}`, true},
		{"server error", http.StatusBadGateway, `upstream`, false},
		{"rate limited", http.StatusTooManyRequests, ``, false},
		{"missing id", http.StatusOK, `{}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.CreateShipment(context.Background(), gateway.ShipmentRequest{})
			require.Error(t, err)
			assert.Equal(t, tc.permanent, gateway.IsPermanent(err))
		})
	}
}

func TestCreateShipment_NoToken(t *testing.T) {
	c := New("http://127.0.0.1:0", "", time.Second)
	_, err := c.CreateShipment(context.Background(), gateway.ShipmentRequest{})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
	assert.True(t, gateway.IsPermanent(err))
}

func TestCreateShipment_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "t", 50*time.Millisecond)
	_, err := c.CreateShipment(context.Background(), gateway.ShipmentRequest{})
	require.Error(t, err)
	assert.False(t, gateway.IsPermanent(err))
}

func TestTrackingStatus(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		delivered bool
		raw       string
	}{
		{"list delivered", `[{"status":"posted"},{"status":"Entregue"}]`, true, "entregue"},
		{"single object", `{"status":"delivered"}`, true, "delivered"},
		{"keyed by id", `{"ship-1":{"status":"FINALIZADO"}}`, true, "finalizado"},
		{"in transit", `{"ship-1":{"status":"posted"}}`, false, "posted"},
		{"empty body", ``, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/me/shipment/tracking", r.URL.Path)
				var body map[string][]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, []string{"ship-1"}, body["orders"])
				_, _ = w.Write([]byte(tc.body))
			})
			status, err := c.TrackingStatus(context.Background(), "ship-1")
			require.NoError(t, err)
			assert.Equal(t, tc.delivered, status.Delivered)
			assert.Equal(t, tc.raw, status.RawStatus)
		})
	}
}

func TestTrackingStatus_ServerError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := c.TrackingStatus(context.Background(), "ship-1")
	require.Error(t, err)
	assert.False(t, gateway.IsPermanent(err))
}
