package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := OpenDatabase("sqlite", ":memory:")
	require.NoError(t, err)
	store, err := NewGormStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func backends() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
		"dynamo": func(t *testing.T) Store { return NewDynamoStore(newMockDynamo(), "orders") },
	}
}

func TestStoreContract(t *testing.T) {
	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("upsert is idempotent", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()

				first, created, err := store.UpsertIfAbsent(ctx, NewOrder("A1", sampleDetails()))
				require.NoError(t, err)
				assert.True(t, created)
				assert.Equal(t, StateCreated, first.State)

				second, created, err := store.UpsertIfAbsent(ctx, NewOrder("A1", Details{Total: 1}))
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, 100.0, second.Details.Total)
				assert.Equal(t, "Ana", second.Details.Customer.Name)

				counts, err := store.CountByState(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, counts[StateCreated])
			})

			t.Run("get missing", func(t *testing.T) {
				store := newStore(t)
				_, err := store.Get(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("lifecycle is monotonic", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()
				_, _, err := store.UpsertIfAbsent(ctx, NewOrder("B1", sampleDetails()))
				require.NoError(t, err)

				_, err = store.UpdateState(ctx, "B1", StateDelivered, Patch{ShipmentID: String("S")})
				assert.ErrorIs(t, err, ErrInvalidTransition)

				shipped, err := store.UpdateState(ctx, "B1", StateShipped, Patch{
					ShipmentID:   String("ME-9"),
					TrackingCode: String("BR9"),
				})
				require.NoError(t, err)
				assert.Equal(t, int64(2), shipped.Version)

				delivered, err := store.UpdateState(ctx, "B1", StateDelivered, Patch{})
				require.NoError(t, err)
				assert.False(t, delivered.DeliveredAt.IsZero())

				_, err = store.UpdateState(ctx, "B1", StateShipped, Patch{})
				assert.ErrorIs(t, err, ErrInvalidTransition)

				synced, err := store.UpdateState(ctx, "B1", StateDelivered, Patch{SourceSynced: Bool(true), SyncAttempts: Int(1)})
				require.NoError(t, err)
				assert.True(t, synced.SourceSynced)

				got, err := store.Get(ctx, "B1")
				require.NoError(t, err)
				assert.Equal(t, StateDelivered, got.State)
				assert.Equal(t, "ME-9", got.ShipmentID)
				assert.Equal(t, "BR9", got.TrackingCode)
				assert.True(t, got.SourceSynced)
				assert.Equal(t, int64(4), got.Version)
			})

			t.Run("expected state guards the update", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()
				_, _, err := store.UpsertIfAbsent(ctx, NewOrder("E1", sampleDetails()))
				require.NoError(t, err)
				_, err = store.UpdateState(ctx, "E1", StateCreated, Patch{RetryCount: Int(2)})
				require.NoError(t, err)

				_, err = store.UpdateState(ctx, "E1", StateCreated, Patch{
					ExpectState: StatePtr(StateFailed),
					RetryCount:  Int(0),
				})
				assert.ErrorIs(t, err, ErrInvalidTransition)

				got, err := store.Get(ctx, "E1")
				require.NoError(t, err)
				assert.Equal(t, 2, got.RetryCount)

				_, err = store.UpdateState(ctx, "E1", StateFailed, Patch{ExpectState: StatePtr(StateCreated)})
				require.NoError(t, err)
			})

			t.Run("failed order can be revived", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()
				_, _, err := store.UpsertIfAbsent(ctx, NewOrder("C1", sampleDetails()))
				require.NoError(t, err)

				_, err = store.UpdateState(ctx, "C1", StateFailed, Patch{RetryCount: Int(3), LastError: String("timeout")})
				require.NoError(t, err)

				fixed := sampleDetails()
				fixed.Address.Zipcode = "30140071"
				revived, err := store.UpdateState(ctx, "C1", StateCreated, Patch{RetryCount: Int(0), LastError: String(""), Details: &fixed})
				require.NoError(t, err)
				assert.Equal(t, StateCreated, revived.State)
				assert.Equal(t, 0, revived.RetryCount)

				got, err := store.Get(ctx, "C1")
				require.NoError(t, err)
				assert.Equal(t, "30140071", got.Details.Address.Zipcode)
				assert.Empty(t, got.LastError)
				assert.Len(t, got.Details.Items, len(fixed.Items))
			})

			t.Run("list by state", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()
				for i := 0; i < 4; i++ {
					_, _, err := store.UpsertIfAbsent(ctx, NewOrder(fmt.Sprintf("L%d", i), sampleDetails()))
					require.NoError(t, err)
				}
				_, err := store.UpdateState(ctx, "L2", StateShipped, Patch{ShipmentID: String("S2")})
				require.NoError(t, err)

				shipped, err := store.ListByState(ctx, StateShipped)
				require.NoError(t, err)
				require.Len(t, shipped, 1)
				assert.Equal(t, "L2", shipped[0].OrderID)

				created, err := store.ListByState(ctx, StateCreated)
				require.NoError(t, err)
				assert.Len(t, created, 3)

				counts, err := store.CountByState(ctx)
				require.NoError(t, err)
				assert.Equal(t, map[State]int{StateCreated: 3, StateShipped: 1, StateDelivered: 0, StateFailed: 0}, counts)
			})

			t.Run("next attempt round trips", func(t *testing.T) {
				store := newStore(t)
				ctx := context.Background()
				_, _, err := store.UpsertIfAbsent(ctx, NewOrder("N1", sampleDetails()))
				require.NoError(t, err)

				at := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
				_, err = store.UpdateState(ctx, "N1", StateCreated, Patch{RetryCount: Int(1), NextAttemptAt: Time(at)})
				require.NoError(t, err)

				got, err := store.Get(ctx, "N1")
				require.NoError(t, err)
				assert.True(t, got.NextAttemptAt.Equal(at), "got %v want %v", got.NextAttemptAt, at)
				assert.False(t, got.DueForAttempt(time.Now()))
				assert.True(t, got.DueForAttempt(at))
			})
		})
	}
}

func TestMemoryStore_ConcurrentUpdatesOnOneRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, err := store.UpsertIfAbsent(ctx, NewOrder("hot", sampleDetails()))
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpdateState(ctx, "hot", StateCreated, Patch{LastError: String(fmt.Sprint(i))})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(1+writers), got.Version)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	o, _, err := store.UpsertIfAbsent(ctx, NewOrder("copy", sampleDetails()))
	require.NoError(t, err)

	o.Details.Items[0].Quantity = 99
	got, err := store.Get(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Details.Items[0].Quantity)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateShipped, true},
		{StateCreated, StateFailed, true},
		{StateCreated, StateDelivered, false},
		{StateShipped, StateDelivered, true},
		{StateShipped, StateFailed, true},
		{StateShipped, StateCreated, false},
		{StateDelivered, StateShipped, false},
		{StateDelivered, StateFailed, false},
		{StateFailed, StateCreated, true},
		{StateFailed, StateShipped, false},
		{StateDelivered, StateDelivered, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
