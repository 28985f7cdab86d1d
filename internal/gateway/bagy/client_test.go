package bagy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
)

func TestMarkShipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/orders/1001/fulfillment/shipped", r.URL.Path)
		assert.Equal(t, "Bearer bagy-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "BR123", body["shipping_code"])
		assert.Equal(t, Carrier, body["shipping_carrier"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "bagy-token", time.Second)
	require.NoError(t, c.MarkShipped(context.Background(), "1001", "BR123"))
}

func TestMarkDelivered(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/orders/1001/fulfillment/delivered", r.URL.Path)
		assert.Empty(t, r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "bagy-token", time.Second)
	require.NoError(t, c.MarkDelivered(context.Background(), "1001"))
	assert.Equal(t, 1, calls)
}

func TestMarkShipped_Errors(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"order not found"}`))
	}))
	defer srv.Close()
	c := New(srv.URL, "bagy-token", time.Second)

	err := c.MarkShipped(context.Background(), "x", "t")
	var re *gateway.RemoteError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Permanent)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Contains(t, re.Error(), "order not found")

	status = http.StatusInternalServerError
	err = c.MarkShipped(context.Background(), "x", "t")
	require.Error(t, err)
	assert.False(t, gateway.IsPermanent(err))
}

func TestFetchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders/77", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"77","fulfillment_status":"invoiced"}`))
	}))
	defer srv.Close()

	raw, err := New(srv.URL, "bagy-token", time.Second).FetchOrder(context.Background(), "77")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"77","fulfillment_status":"invoiced"}`, string(raw))
}
