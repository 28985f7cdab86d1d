package orders

import (
	"errors"
	"fmt"
	"time"
)

// forward lists the states reachable from each state. A same-state update
// is always allowed and only touches fields.
var forward = map[State][]State{
	StateCreated: {StateShipped, StateFailed},
	StateShipped: {StateDelivered, StateFailed},
	// Manual re-ingestion revives a failed order for a fresh workflow run.
	StateFailed: {StateCreated},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range forward[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Patch carries the optional field changes applied together with a state
// change. Nil fields are left untouched.
type Patch struct {
	// ExpectState, when set, fails the update with ErrInvalidTransition
	// unless the stored order is in that state.
	ExpectState *State

	ShipmentID    *string
	TrackingCode  *string
	RetryCount    *int
	LastError     *string
	NextAttemptAt *time.Time
	SourceSynced  *bool
	SyncAttempts  *int
	Details       *Details
}

// String returns a pointer to s, for building a Patch.
func String(s string) *string { return &s }

// Int returns a pointer to i, for building a Patch.
func Int(i int) *int { return &i }

// Bool returns a pointer to b, for building a Patch.
func Bool(b bool) *bool { return &b }

// StatePtr returns a pointer to s, for Patch.ExpectState.
func StatePtr(s State) *State { return &s }

// Time returns a pointer to t, for building a Patch.
func Time(t time.Time) *time.Time { return &t }

// apply returns the order that results from moving cur to state to with p
// applied, or ErrInvalidTransition.
func apply(cur Order, to State, p Patch, now time.Time) (Order, error) {
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, to)
	}
	if p.ExpectState != nil && cur.State != *p.ExpectState {
		return Order{}, fmt.Errorf("%w: order %s is %s, expected %s", ErrInvalidTransition, cur.OrderID, cur.State, *p.ExpectState)
	}
	if !CanTransition(cur.State, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s for order %s", ErrInvalidTransition, cur.State, to, cur.OrderID)
	}

	next := cur.clone()
	next.State = to
	if p.ShipmentID != nil {
		next.ShipmentID = *p.ShipmentID
	}
	if p.TrackingCode != nil {
		next.TrackingCode = *p.TrackingCode
	}
	if p.RetryCount != nil {
		next.RetryCount = *p.RetryCount
	}
	if p.LastError != nil {
		next.LastError = *p.LastError
	}
	if p.NextAttemptAt != nil {
		next.NextAttemptAt = *p.NextAttemptAt
	}
	if p.SourceSynced != nil {
		next.SourceSynced = *p.SourceSynced
	}
	if p.SyncAttempts != nil {
		next.SyncAttempts = *p.SyncAttempts
	}
	if p.Details != nil {
		next.Details = *p.Details
		next.Details.Items = append([]Item(nil), p.Details.Items...)
	}

	switch to {
	case StateShipped, StateDelivered:
		if next.ShipmentID == "" {
			return Order{}, fmt.Errorf("%w: %s requires a shipment id (order %s)", ErrInvalidTransition, to, cur.OrderID)
		}
	case StateCreated:
		if next.ShipmentID != "" {
			return Order{}, fmt.Errorf("%w: CREATED order %s cannot carry a shipment id", ErrInvalidTransition, cur.OrderID)
		}
	}
	if to == StateDelivered && cur.State != StateDelivered {
		next.DeliveredAt = now
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// maxCASAttempts bounds the read-apply-write loop of the conditional backends.
const maxCASAttempts = 5

type getFunc func(orderID string) (Order, error)

// casFunc writes next only if the stored version still equals expected,
// returning ErrConflict otherwise.
type casFunc func(expected int64, next Order) error

func updateWithCAS(orderID string, to State, p Patch, now func() time.Time, get getFunc, cas casFunc) (Order, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := get(orderID)
		if err != nil {
			return Order{}, err
		}
		next, err := apply(cur, to, p, now())
		if err != nil {
			return Order{}, err
		}
		err = cas(cur.Version, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Order{}, err
		}
	}
	return Order{}, fmt.Errorf("update order %s: %w", orderID, ErrConflict)
}
