package shipment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/imrishuroy/fulfillment-sync/internal/orders"
)

func TestBuildRequest(t *testing.T) {
	o := orders.NewOrder("55", orders.Details{
		Customer: orders.Customer{Name: "", Phone: "(11) 99999-9999", Document: "000.000.000-00"},
		Address:  orders.Address{Zipcode: "01310-100", Street: "Rua A", City: "São Paulo", State: "SP", District: "Centro"},
		Items: []orders.Item{
			{Weight: 0.25, Length: 30, Height: 4, Width: 10, Quantity: 3, Price: 19.9},
			{Length: 12, Height: 18, Width: 22, Quantity: 1, Price: 5},
		},
	})
	sender := Sender{Name: "Loja", Document: "12.345.678/0001-95", Zipcode: "30140-071", State: "MG"}

	req := BuildRequest(o, sender, 1)

	assert.Equal(t, 1, req.Service)
	assert.Equal(t, DefaultName, req.To.Name)
	assert.Equal(t, DefaultNumber, req.To.Number)
	assert.Equal(t, "11999999999", req.To.Phone)
	assert.Empty(t, req.To.Document, "invalid CPF is sent empty")
	assert.Equal(t, "01310100", req.To.PostalCode)
	assert.Equal(t, "Centro", req.To.District)

	assert.Equal(t, "12345678000195", req.From.Document)
	assert.Equal(t, "30140071", req.From.PostalCode)
	assert.Equal(t, "MG", req.From.StateAbbr)

	vol := req.Volumes[0]
	assert.Equal(t, 30, vol.Length)
	assert.Equal(t, 18, vol.Height)
	assert.Equal(t, 22, vol.Width)
	assert.InDelta(t, 1.05, vol.Weight, 1e-9) // 0.25*3 + default 0.3

	assert.InDelta(t, 64.7, req.Options.InsuranceValue, 1e-9) // 19.9*3 + 5
	assert.Equal(t, req.Options.InsuranceValue, req.Products[0].UnitaryValue)
	assert.Equal(t, "Pedido #55", req.Products[0].Name)
}

func TestInvoiceValue(t *testing.T) {
	assert.Equal(t, 150.0, InvoiceValue(orders.Details{Total: 150}))
	assert.Equal(t, 10.0, InvoiceValue(orders.Details{Total: 3.5}), "minimum invoice value")
	assert.Equal(t, 10.0, InvoiceValue(orders.Details{}))
	assert.Equal(t, 30.3, InvoiceValue(orders.Details{Items: []orders.Item{{Price: 10.1, Quantity: 3}}}))
}

func TestTotalWeightAndDimensions(t *testing.T) {
	assert.Equal(t, MinWeight, TotalWeight(nil))
	assert.Equal(t, MinWeight, TotalWeight([]orders.Item{{Weight: 0.1, Quantity: 1}}))
	assert.Equal(t, 1.5, TotalWeight([]orders.Item{{Weight: 0.5, Quantity: 3}}))

	l, h, w := Dimensions(nil)
	assert.Equal(t, []float64{DefaultLength, DefaultHeight, DefaultWidth}, []float64{l, h, w})

	l, h, w = Dimensions([]orders.Item{{Length: 5, Height: 0, Width: 40}})
	assert.Equal(t, []float64{5, DefaultHeight, 40}, []float64{l, h, w})
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 30 * time.Second, Max: 5 * time.Minute}
	assert.Equal(t, 30*time.Second, b.Delay(1))
	assert.Equal(t, time.Minute, b.Delay(2))
	assert.Equal(t, 2*time.Minute, b.Delay(3))
	assert.Equal(t, 4*time.Minute, b.Delay(4))
	assert.Equal(t, 5*time.Minute, b.Delay(5))
	assert.Equal(t, 5*time.Minute, b.Delay(12))
	assert.Equal(t, 30*time.Second, b.Delay(0))

	jittered := Backoff{Base: time.Minute, Max: time.Hour, Jitter: 0.5}
	for i := 0; i < 20; i++ {
		d := jittered.Delay(2)
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.LessOrEqual(t, d, 3*time.Minute)
	}
}
