package validation

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// Text is a JSON value that may arrive as a string or a number. Order ids
// and numeric-looking fields are not typed consistently by the source platform.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeOf(*t)}
	}
	*t = Text(n.String())
	return nil
}

// Number is a JSON number that may also arrive quoted ("0.5").
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return &json.UnmarshalTypeError{Value: "string " + strconv.Quote(s), Type: reflect.TypeOf(*n)}
		}
		*n = Number(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return &json.UnmarshalTypeError{Value: string(b), Type: reflect.TypeOf(*n)}
	}
	*n = Number(f)
	return nil
}

// Customer is the buyer block of an order webhook.
type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email" validate:"omitempty,email"`
	Phone    Text   `json:"phone"`
	Document Text   `json:"document"`
}

// Address is a delivery address block.
type Address struct {
	Zipcode      Text   `json:"zipcode" validate:"required"`
	Street       string `json:"street" validate:"required"`
	Number       Text   `json:"number"`
	Complement   string `json:"complement"`
	District     string `json:"district"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city" validate:"required"`
	State        string `json:"state" validate:"required"`
}

// Item is one order line.
type Item struct {
	Name     string `json:"name"`
	Weight   Number `json:"weight" validate:"gte=0"`
	Length   Number `json:"length" validate:"gte=0"`
	Height   Number `json:"height" validate:"gte=0"`
	Width    Number `json:"width" validate:"gte=0"`
	Quantity Number `json:"quantity" validate:"gte=0"`
	Price    Number `json:"price" validate:"gte=0"`
}

// WebhookPayload is an order event from the source platform.
type WebhookPayload struct {
	ID                Text      `json:"id" validate:"required"`
	Code              Text      `json:"code"`
	FulfillmentStatus string    `json:"fulfillment_status" validate:"required"`
	Customer          *Customer `json:"customer" validate:"required"`
	Address           *Address  `json:"address" validate:"omitempty"`
	ShippingAddress   *Address  `json:"shipping_address" validate:"omitempty"`
	Items             []Item    `json:"items" validate:"required,min=1,dive"`
	Total             Number    `json:"total" validate:"gte=0"`
}

// DeliveryAddress returns the address block, falling back to shipping_address.
func (p WebhookPayload) DeliveryAddress() *Address {
	if p.Address != nil {
		return p.Address
	}
	return p.ShippingAddress
}

// envelope is the {event, data} wrapper some webhook deliveries use.
type envelope struct {
	Event json.RawMessage `json:"event"`
	Data  json.RawMessage `json:"data"`
}
