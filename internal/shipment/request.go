package shipment

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/fulfillment-sync/internal/gateway"
	"github.com/imrishuroy/fulfillment-sync/internal/orders"
	"github.com/imrishuroy/fulfillment-sync/internal/validation"
)

// Defaults applied when an item omits a measurement.
const (
	DefaultWeight = 0.3 // kg
	DefaultLength = 20  // cm
	DefaultHeight = 10  // cm
	DefaultWidth  = 15  // cm

	MinWeight       = 0.3
	MinInvoiceValue = 10
	DefaultName     = "Cliente"
	DefaultNumber   = "S/N"
)

var minInvoice = decimal.NewFromInt(MinInvoiceValue)

// Sender is the fixed origin profile sent with every shipment.
type Sender struct {
	Name       string
	Phone      string
	Email      string
	Document   string
	Address    string
	Complement string
	Number     string
	District   string
	City       string
	State      string
	Zipcode    string
}

func (s Sender) party() gateway.Party {
	return gateway.Party{
		Name:       s.Name,
		Phone:      s.Phone,
		Email:      s.Email,
		Document:   validation.CleanDigits(s.Document),
		Address:    s.Address,
		Complement: s.Complement,
		Number:     s.Number,
		District:   s.District,
		City:       s.City,
		StateAbbr:  s.State,
		PostalCode: validation.CleanDigits(s.Zipcode),
	}
}

// BuildRequest turns a stored order into a carrier shipment request. The
// order ships as a single volume sized to its largest item on each axis.
func BuildRequest(o orders.Order, sender Sender, serviceID int) gateway.ShipmentRequest {
	d := o.Details
	invoice := InvoiceValue(d)

	to := gateway.Party{
		Name:       orDefault(d.Customer.Name, DefaultName),
		Phone:      validation.CleanDigits(d.Customer.Phone),
		Email:      d.Customer.Email,
		Document:   validation.Document(d.Customer.Document),
		Address:    d.Address.Street,
		Complement: d.Address.Complement,
		Number:     orDefault(d.Address.Number, DefaultNumber),
		District:   d.Address.District,
		City:       d.Address.City,
		StateAbbr:  d.Address.State,
		PostalCode: validation.CleanDigits(d.Address.Zipcode),
	}

	length, height, width := Dimensions(d.Items)
	return gateway.ShipmentRequest{
		Service: serviceID,
		From:    sender.party(),
		To:      to,
		Products: []gateway.Product{{
			Name:         fmt.Sprintf("Pedido #%s", o.OrderID),
			Quantity:     1,
			UnitaryValue: invoice,
		}},
		Volumes: []gateway.Volume{{
			Height: int(height),
			Width:  int(width),
			Length: int(length),
			Weight: TotalWeight(d.Items),
		}},
		Options: gateway.Options{
			InsuranceValue: invoice,
			Receipt:        false,
			OwnHand:        false,
			Collect:        false,
		},
	}
}

// TotalWeight sums weight times quantity, never below MinWeight.
func TotalWeight(items []orders.Item) float64 {
	total := decimal.Zero
	for _, it := range items {
		w := it.Weight
		if w <= 0 {
			w = DefaultWeight
		}
		total = total.Add(decimal.NewFromFloat(w).Mul(decimal.NewFromInt(int64(quantity(it)))))
	}
	f := total.Round(3).InexactFloat64()
	return math.Max(f, MinWeight)
}

// Dimensions returns the largest length, height and width across items.
func Dimensions(items []orders.Item) (length, height, width float64) {
	if len(items) == 0 {
		return DefaultLength, DefaultHeight, DefaultWidth
	}
	for _, it := range items {
		length = math.Max(length, orDefaultFloat(it.Length, DefaultLength))
		height = math.Max(height, orDefaultFloat(it.Height, DefaultHeight))
		width = math.Max(width, orDefaultFloat(it.Width, DefaultWidth))
	}
	return length, height, width
}

// InvoiceValue is the order total, or the item subtotal when no total was
// sent, rounded to cents and never below MinInvoiceValue.
func InvoiceValue(d orders.Details) float64 {
	value := decimal.NewFromFloat(d.Total)
	if !value.IsPositive() {
		value = decimal.Zero
		for _, it := range d.Items {
			value = value.Add(decimal.NewFromFloat(it.Price).Mul(decimal.NewFromInt(int64(quantity(it)))))
		}
	}
	value = decimal.Max(value, minInvoice).Round(2)
	return value.InexactFloat64()
}

func quantity(it orders.Item) int {
	if it.Quantity < 1 {
		return 1
	}
	return it.Quantity
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultFloat(f, def float64) float64 {
	if f <= 0 {
		return def
	}
	return f
}
