package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps orders in process memory. Each row carries its own
// mutex so updates to different orders never serialize on a global lock.
type MemoryStore struct {
	rows    sync.Map // order_id -> *memRow
	nowFunc func() time.Time
}

type memRow struct {
	mu    sync.Mutex
	order Order
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nowFunc: time.Now}
}

func (s *MemoryStore) UpsertIfAbsent(ctx context.Context, order Order) (Order, bool, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, false, err
	}
	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	order.Version = 1

	row := &memRow{order: order.clone()}
	actual, loaded := s.rows.LoadOrStore(order.OrderID, row)
	if !loaded {
		return order, true, nil
	}
	existing := actual.(*memRow)
	existing.mu.Lock()
	defer existing.mu.Unlock()
	return existing.order.clone(), false, nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	v, ok := s.rows.Load(orderID)
	if !ok {
		return Order{}, ErrNotFound
	}
	row := v.(*memRow)
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.order.clone(), nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, orderID string, to State, patch Patch) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	v, ok := s.rows.Load(orderID)
	if !ok {
		return Order{}, ErrNotFound
	}
	row := v.(*memRow)
	row.mu.Lock()
	defer row.mu.Unlock()

	next, err := apply(row.order, to, patch, s.nowFunc())
	if err != nil {
		return Order{}, err
	}
	row.order = next
	return next.clone(), nil
}

func (s *MemoryStore) ListByState(ctx context.Context, state State) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Order
	s.rows.Range(func(_, v any) bool {
		row := v.(*memRow)
		row.mu.Lock()
		if row.order.State == state {
			out = append(out, row.order.clone())
		}
		row.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountByState(ctx context.Context) (map[State]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[State]int, len(States))
	for _, st := range States {
		counts[st] = 0
	}
	s.rows.Range(func(_, v any) bool {
		row := v.(*memRow)
		row.mu.Lock()
		counts[row.order.State]++
		row.mu.Unlock()
		return true
	})
	return counts, nil
}
