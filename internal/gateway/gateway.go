// Package gateway defines the remote platforms the service talks to and the
// error taxonomy shared by their clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Party is a shipment sender or recipient.
type Party struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Document   string `json:"document"`
	Address    string `json:"address"`
	Complement string `json:"complement"`
	Number     string `json:"number"`
	District   string `json:"district"`
	City       string `json:"city"`
	StateAbbr  string `json:"state_abbr"`
	PostalCode string `json:"postal_code"`
}

// Product is a declared-content line of a shipment.
type Product struct {
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	UnitaryValue float64 `json:"unitary_value"`
}

// Volume is one package. Dimensions in whole centimeters, weight in kilograms.
type Volume struct {
	Height int     `json:"height"`
	Width  int     `json:"width"`
	Length int     `json:"length"`
	Weight float64 `json:"weight"`
}

// Options are carrier add-ons.
type Options struct {
	InsuranceValue float64 `json:"insurance_value"`
	Receipt        bool    `json:"receipt"`
	OwnHand        bool    `json:"own_hand"`
	Collect        bool    `json:"collect"`
}

// ShipmentRequest is what the carrier needs to open a shipment.
type ShipmentRequest struct {
	Service  int       `json:"service"`
	From     Party     `json:"from"`
	To       Party     `json:"to"`
	Products []Product `json:"products"`
	Volumes  []Volume  `json:"volumes"`
	Options  Options   `json:"options"`
}

// Shipment is the carrier's answer to a created shipment.
type Shipment struct {
	ID           string
	TrackingCode string
}

// TrackingStatus is the carrier's view of a shipment.
type TrackingStatus struct {
	Delivered bool
	RawStatus string
}

// Shipping is the shipping-carrier platform.
type Shipping interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error)
	TrackingStatus(ctx context.Context, shipmentID string) (TrackingStatus, error)
}

// Source is the order-source platform.
type Source interface {
	MarkShipped(ctx context.Context, orderID, trackingCode string) error
	MarkDelivered(ctx context.Context, orderID string) error
	FetchOrder(ctx context.Context, orderID string) (json.RawMessage, error)
}

// ErrNotConfigured is wrapped by a RemoteError when a client has no credentials.
var ErrNotConfigured = errors.New("gateway credentials not configured")

// RemoteError is a failed call to a remote platform. Permanent errors mean
// the request itself was rejected and resending it cannot succeed.
type RemoteError struct {
	Gateway    string
	Op         string
	StatusCode int
	Permanent  bool
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "rejected"
	}
	msg := fmt.Sprintf("%s %s %s", e.Gateway, e.Op, kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [HTTP %d]", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a rejection that must not be retried.
// Anything that is not a RemoteError is treated as transient.
func IsPermanent(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Permanent
}

// PermanentStatus reports whether an HTTP status is a rejection of the
// request rather than a failure of the platform.
func PermanentStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return false
	case code >= 400 && code < 500:
		return true
	default:
		return false
	}
}
