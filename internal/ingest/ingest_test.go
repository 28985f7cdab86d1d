package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/idempotency"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/shipment"
	"github.com/imrishuroy/fulfillment-sync/internal/validation"
)

type countingShipping struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingShipping) CreateShipment(ctx context.Context, req gateway.ShipmentRequest) (gateway.Shipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return gateway.Shipment{}, c.err
	}
	return gateway.Shipment{ID: fmt.Sprintf("me-%d", c.calls), TrackingCode: "BR1"}, nil
}

func (c *countingShipping) TrackingStatus(ctx context.Context, id string) (gateway.TrackingStatus, error) {
	return gateway.TrackingStatus{}, nil
}

func (c *countingShipping) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type okSource struct{}

func (okSource) MarkShipped(ctx context.Context, orderID, trackingCode string) error { return nil }
func (okSource) MarkDelivered(ctx context.Context, orderID string) error             { return nil }
func (okSource) FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return nil, nil
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(ctx context.Context, orderID string) error {
	return shipment.ErrQueueFull
}

func payload(t *testing.T, id, status string) validation.WebhookPayload {
	t.Helper()
	body := fmt.Sprintf(`{
		"id": %q,
		"fulfillment_status": %q,
		"customer": {"name": "Maria", "document": "52998224725"},
		"address": {"zipcode": "01310-100", "street": "Av. Paulista", "number": "1000", "city": "São Paulo", "state": "SP"},
		"items": [{"weight": 0.5, "length": 20, "height": 10, "width": 15, "quantity": 1, "price": 150}],
		"total": 150
	}`, id, status)
	p, err := validation.Decode([]byte(body))
	require.NoError(t, err)
	return p
}

func setup(maxRetries int) (*Ingestor, *orders.MemoryStore, *countingShipping) {
	store := orders.NewMemoryStore()
	ship := &countingShipping{}
	wf := shipment.NewWorkflow(store, ship, okSource{}, idempotency.NewMemoryLocker(), shipment.Config{
		ServiceID:  2,
		MaxRetries: maxRetries,
		Backoff:    shipment.Backoff{Base: time.Second, Max: time.Minute},
	}, zap.NewNop())
	return New(store, shipment.NewInlineDispatcher(wf), "invoiced", zap.NewNop()), store, ship
}

// Scenario A
func TestIngest_NonTriggerStatusRejected(t *testing.T) {
	ing, store, ship := setup(3)
	res, err := ing.Ingest(context.Background(), payload(t, "ORD-0", "paid"))
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, ReasonInvalidPayload, res.Reason)

	_, err = store.Get(context.Background(), "ORD-0")
	assert.ErrorIs(t, err, orders.ErrNotFound)
	assert.Equal(t, 0, ship.Calls())
}

// Scenarios B and C
func TestIngest_FirstThenDuplicate(t *testing.T) {
	ing, store, ship := setup(3)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, payload(t, "ORD-1", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, Result{Accepted: true, Reason: ReasonProcessing, OrderID: "ORD-1", State: orders.StateShipped}, res)

	o, err := store.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StateShipped, o.State)
	assert.Equal(t, "me-1", o.ShipmentID)
	assert.Equal(t, "BR1", o.TrackingCode)

	res, err = ing.Ingest(ctx, payload(t, "ORD-1", "invoiced"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonDuplicate, res.Reason)
	assert.Equal(t, 1, ship.Calls())
}

func TestIngest_ConcurrentDuplicates(t *testing.T) {
	ing, store, ship := setup(3)
	ctx := context.Background()

	p := payload(t, "ORD-2", "invoiced")
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ing.Ingest(ctx, p)
			assert.NoError(t, err)
			assert.True(t, res.Accepted)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ship.Calls())
	counts, err := store.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[orders.StateShipped])
}

func TestIngest_PendingOrderIsInProgress(t *testing.T) {
	ing, _, ship := setup(3)
	ship.err = &gateway.RemoteError{Gateway: "melhorenvio", StatusCode: 502}
	ctx := context.Background()

	res, err := ing.Ingest(ctx, payload(t, "ORD-3", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, ReasonProcessing, res.Reason)
	assert.Equal(t, orders.StateCreated, res.State)

	res, err = ing.Ingest(ctx, payload(t, "ORD-3", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, ReasonInProgress, res.Reason)
	assert.Equal(t, 1, ship.Calls())
}

func TestIngest_FailedOrderRevived(t *testing.T) {
	ing, store, ship := setup(1)
	ship.err = &gateway.RemoteError{Gateway: "melhorenvio", StatusCode: 422, Permanent: true}
	ctx := context.Background()

	res, err := ing.Ingest(ctx, payload(t, "ORD-4", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, orders.StateFailed, res.State)

	ship.mu.Lock()
	ship.err = nil
	ship.mu.Unlock()

	res, err = ing.Ingest(ctx, payload(t, "ORD-4", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, ReasonProcessing, res.Reason)
	assert.Equal(t, orders.StateShipped, res.State)

	o, err := store.Get(ctx, "ORD-4")
	require.NoError(t, err)
	assert.Equal(t, 0, o.RetryCount)
	assert.Empty(t, o.LastError)
}

func TestIngest_DispatchFailureLeavesOrderCreated(t *testing.T) {
	store := orders.NewMemoryStore()
	ing := New(store, failingDispatcher{}, "invoiced", nil)

	res, err := ing.Ingest(context.Background(), payload(t, "ORD-5", "invoiced"))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, orders.StateCreated, res.State)
}

type brokenStore struct{ orders.Store }

func (brokenStore) UpsertIfAbsent(ctx context.Context, o orders.Order) (orders.Order, bool, error) {
	return orders.Order{}, false, &orders.StorageError{Op: "put order", Err: errors.New("disk full")}
}

func TestIngest_StorageErrorSurfaces(t *testing.T) {
	ing := New(brokenStore{}, failingDispatcher{}, "invoiced", nil)
	_, err := ing.Ingest(context.Background(), payload(t, "ORD-6", "invoiced"))
	require.Error(t, err)
	assert.True(t, orders.IsStorageError(err))
}

// staleStore reports the order as FAILED, as a delivery that read it just
// before a concurrent delivery revived it would.
type staleStore struct{ *orders.MemoryStore }

func (s staleStore) UpsertIfAbsent(ctx context.Context, o orders.Order) (orders.Order, bool, error) {
	cur, _, err := s.MemoryStore.UpsertIfAbsent(ctx, o)
	cur.State = orders.StateFailed
	return cur, false, err
}

func TestIngest_ConcurrentReviveKeepsRetryAccounting(t *testing.T) {
	mem := orders.NewMemoryStore()
	ctx := context.Background()
	next := time.Now().Add(time.Hour).UTC()

	_, _, err := mem.UpsertIfAbsent(ctx, orders.NewOrder("ORD-7", orders.Details{}))
	require.NoError(t, err)
	_, err = mem.UpdateState(ctx, "ORD-7", orders.StateCreated, orders.Patch{
		RetryCount:    orders.Int(2),
		NextAttemptAt: orders.Time(next),
	})
	require.NoError(t, err)

	ing := New(staleStore{mem}, failingDispatcher{}, "invoiced", nil)
	res, err := ing.Ingest(ctx, payload(t, "ORD-7", "invoiced"))
	require.NoError(t, err)
	assert.Equal(t, ReasonInProgress, res.Reason)
	assert.Equal(t, orders.StateCreated, res.State)

	o, err := mem.Get(ctx, "ORD-7")
	require.NoError(t, err)
	assert.Equal(t, 2, o.RetryCount)
	assert.True(t, o.NextAttemptAt.Equal(next))
}
