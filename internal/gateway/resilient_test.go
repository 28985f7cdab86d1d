package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubShipping struct {
	calls int
	err   error
}

func (s *stubShipping) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	s.calls++
	if s.err != nil {
		return Shipment{}, s.err
	}
	return Shipment{ID: "S1", TrackingCode: "T1"}, nil
}

func (s *stubShipping) TrackingStatus(ctx context.Context, id string) (TrackingStatus, error) {
	s.calls++
	return TrackingStatus{Delivered: true, RawStatus: "delivered"}, s.err
}

type stubSource struct{ err error }

func (s *stubSource) MarkShipped(ctx context.Context, orderID, trackingCode string) error {
	return s.err
}
func (s *stubSource) MarkDelivered(ctx context.Context, orderID string) error { return s.err }
func (s *stubSource) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"1"}`), s.err
}

func TestResilientShipping_PassesResults(t *testing.T) {
	next := &stubShipping{}
	r := NewResilientShipping(next, NewGuard("test-pass", GuardConfig{}, zap.NewNop()))

	shipment, err := r.CreateShipment(context.Background(), ShipmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, Shipment{ID: "S1", TrackingCode: "T1"}, shipment)

	status, err := r.TrackingStatus(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, status.Delivered)
}

func TestResilientShipping_OpensOnTransientFailures(t *testing.T) {
	next := &stubShipping{err: &RemoteError{Gateway: "x", Op: "create_shipment", StatusCode: 503}}
	guard := NewGuard("test-open", GuardConfig{BreakerFailures: 2, BreakerOpenAfter: time.Minute}, zap.NewNop())
	r := NewResilientShipping(next, guard)

	for i := 0; i < 2; i++ {
		_, err := r.CreateShipment(context.Background(), ShipmentRequest{})
		require.Error(t, err)
	}
	assert.Equal(t, "open", guard.State())

	_, err := r.CreateShipment(context.Background(), ShipmentRequest{})
	require.Error(t, err)
	assert.Equal(t, 2, next.calls, "open circuit must not reach the gateway")
	assert.False(t, IsPermanent(err))
	var re *RemoteError
	require.True(t, errors.As(err, &re))
}

func TestResilientShipping_PermanentErrorsDoNotTrip(t *testing.T) {
	next := &stubShipping{err: &RemoteError{Gateway: "x", StatusCode: 422, Permanent: true}}
	guard := NewGuard("test-permanent", GuardConfig{BreakerFailures: 1}, zap.NewNop())
	r := NewResilientShipping(next, guard)

	for i := 0; i < 3; i++ {
		_, err := r.CreateShipment(context.Background(), ShipmentRequest{})
		assert.True(t, IsPermanent(err))
	}
	assert.Equal(t, "closed", guard.State())
	assert.Equal(t, 3, next.calls)
}

func TestResilientSource_RateLimitHonorsContext(t *testing.T) {
	guard := NewGuard("test-rate", GuardConfig{RateLimit: 0.001, RateBurst: 1}, zap.NewNop())
	r := NewResilientSource(&stubSource{}, guard)

	require.NoError(t, r.MarkShipped(context.Background(), "1", "T"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.MarkDelivered(ctx, "1")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestResilientSource_FetchOrder(t *testing.T) {
	r := NewResilientSource(&stubSource{}, NewGuard("test-fetch", GuardConfig{}, nil))
	raw, err := r.FetchOrder(context.Background(), "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1"}`, string(raw))
}

func TestPermanentStatus(t *testing.T) {
	assert.True(t, PermanentStatus(400))
	assert.True(t, PermanentStatus(422))
	assert.False(t, PermanentStatus(408))
	assert.False(t, PermanentStatus(429))
	assert.False(t, PermanentStatus(500))
	assert.False(t, PermanentStatus(200))
	assert.False(t, IsPermanent(errors.New("dial tcp: refused")))
}
