package shipment

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
)

// fakeShipping returns errs in order, then succeeds.
type fakeShipping struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	requests []gateway.ShipmentRequest
}

func (f *fakeShipping) CreateShipment(ctx context.Context, req gateway.ShipmentRequest) (gateway.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return gateway.Shipment{}, err
	}
	return gateway.Shipment{ID: "me-1", TrackingCode: "BR123"}, nil
}

func (f *fakeShipping) TrackingStatus(ctx context.Context, shipmentID string) (gateway.TrackingStatus, error) {
	return gateway.TrackingStatus{}, nil
}

func (f *fakeShipping) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSource struct {
	mu      sync.Mutex
	err     error
	shipped map[string]string
}

func (f *fakeSource) MarkShipped(ctx context.Context, orderID, trackingCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.shipped == nil {
		f.shipped = map[string]string{}
	}
	f.shipped[orderID] = trackingCode
	return nil
}

func (f *fakeSource) MarkDelivered(ctx context.Context, orderID string) error {
	return f.err
}

func (f *fakeSource) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return nil, f.err
}

func transient() error {
	return &gateway.RemoteError{Gateway: "melhorenvio", Op: "create_shipment", StatusCode: 503}
}

func rejected() error {
	return &gateway.RemoteError{Gateway: "melhorenvio", Op: "create_shipment", StatusCode: 422, Permanent: true}
}

// cancellingShipping cancels the caller's context once the carrier has answered.
type cancellingShipping struct {
	*fakeShipping
	cancel context.CancelFunc
}

func (c *cancellingShipping) CreateShipment(ctx context.Context, req gateway.ShipmentRequest) (gateway.Shipment, error) {
	s, err := c.fakeShipping.CreateShipment(ctx, req)
	c.cancel()
	return s, err
}
