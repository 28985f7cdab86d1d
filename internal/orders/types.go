package orders

import "time"

// State is the fulfillment state of an order.
type State string

// Order states
const (
	StateCreated   State = "CREATED"
	StateShipped   State = "SHIPPED"
	StateDelivered State = "DELIVERED"
	StateFailed    State = "FAILED"
)

// States lists every state in lifecycle order.
var States = []State{StateCreated, StateShipped, StateDelivered, StateFailed}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateCreated, StateShipped, StateDelivered, StateFailed:
		return true
	}
	return false
}

// Order is the persisted record of one source-platform order.
type Order struct {
	OrderID       string    `dynamodbav:"order_id" json:"order_id"` // PK
	State         State     `dynamodbav:"state" json:"state"`       // GSI state-index
	ShipmentID    string    `dynamodbav:"shipment_id,omitempty" json:"shipment_id,omitempty"`
	TrackingCode  string    `dynamodbav:"tracking_code,omitempty" json:"tracking_code,omitempty"`
	RetryCount    int       `dynamodbav:"retry_count" json:"retry_count"`
	LastError     string    `dynamodbav:"last_error,omitempty" json:"last_error,omitempty"`
	NextAttemptAt time.Time `dynamodbav:"next_attempt_at" json:"next_attempt_at"`
	SourceSynced  bool      `dynamodbav:"source_synced" json:"source_synced"`
	SyncAttempts  int       `dynamodbav:"sync_attempts" json:"sync_attempts"`
	Details       Details   `dynamodbav:"details" json:"details"`
	Version       int64     `dynamodbav:"version" json:"version"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updated_at"`
	DeliveredAt   time.Time `dynamodbav:"delivered_at" json:"delivered_at"`
}

// Details holds what the shipment workflow needs to rebuild a shipment
// request after a restart.
type Details struct {
	Customer Customer `dynamodbav:"customer" json:"customer"`
	Address  Address  `dynamodbav:"address" json:"address"`
	Items    []Item   `dynamodbav:"items" json:"items"`
	Total    float64  `dynamodbav:"total" json:"total"`
}

// Customer is the shipment recipient.
type Customer struct {
	Name     string `dynamodbav:"name" json:"name"`
	Email    string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Phone    string `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Document string `dynamodbav:"document,omitempty" json:"document,omitempty"`
}

// Address is the delivery address.
type Address struct {
	Zipcode    string `dynamodbav:"zipcode" json:"zipcode"`
	Street     string `dynamodbav:"street" json:"street"`
	Number     string `dynamodbav:"number,omitempty" json:"number,omitempty"`
	Complement string `dynamodbav:"complement,omitempty" json:"complement,omitempty"`
	District   string `dynamodbav:"district,omitempty" json:"district,omitempty"`
	City       string `dynamodbav:"city" json:"city"`
	State      string `dynamodbav:"state" json:"state"`
}

// Item is one physical line item. Dimensions are in centimeters, weight in kilograms.
type Item struct {
	Weight   float64 `dynamodbav:"weight" json:"weight"`
	Length   float64 `dynamodbav:"length" json:"length"`
	Height   float64 `dynamodbav:"height" json:"height"`
	Width    float64 `dynamodbav:"width" json:"width"`
	Quantity int     `dynamodbav:"quantity" json:"quantity"`
	Price    float64 `dynamodbav:"price" json:"price"`
}

// NewOrder returns a CREATED order for the given id and details.
func NewOrder(orderID string, details Details) Order {
	return Order{
		OrderID: orderID,
		State:   StateCreated,
		Details: details,
	}
}

// HasShipment reports whether a carrier shipment exists for the order.
func (o Order) HasShipment() bool {
	return o.ShipmentID != ""
}

// DueForAttempt reports whether a CREATED order may be executed at now.
func (o Order) DueForAttempt(now time.Time) bool {
	return o.State == StateCreated && !now.Before(o.NextAttemptAt)
}

func (o Order) clone() Order {
	c := o
	if o.Details.Items != nil {
		c.Details.Items = append([]Item(nil), o.Details.Items...)
	}
	return c
}
