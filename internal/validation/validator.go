package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/fulfillment-sync/internal/orders"
)

// ErrInvalidPayload marks a webhook that is well-formed JSON but cannot be
// turned into a shipment.
var ErrInvalidPayload = errors.New("invalid payload")

// InvalidPayloadError lists the offending fields.
type InvalidPayloadError struct {
	Fields map[string]string
}

func (e *InvalidPayloadError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return fmt.Sprintf("invalid payload: %s", strings.Join(parts, "; "))
}

func (e *InvalidPayloadError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// New returns a configured validator with the webhook struct-level rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the delivery address may come under either key, and at least one item
	// must carry physical dimensions for the carrier to quote it.
	v.RegisterStructValidation(webhookStructValidation, WebhookPayload{})

	return v
}

func webhookStructValidation(sl validatorv10.StructLevel) {
	p := sl.Current().Interface().(WebhookPayload)

	addr := p.DeliveryAddress()
	if addr == nil {
		sl.ReportError(p.Address, "address", "Address", "required", "")
	} else if len(CleanDigits(string(addr.Zipcode))) != 8 {
		sl.ReportError(addr.Zipcode, "address.zipcode", "Zipcode", "zipcode", string(addr.Zipcode))
	}

	hasDimensions := false
	for _, it := range p.Items {
		if it.Length > 0 && it.Height > 0 && it.Width > 0 {
			hasDimensions = true
			break
		}
	}
	if len(p.Items) > 0 && !hasDimensions {
		sl.ReportError(p.Items, "items", "Items", "dimensions", "")
	}
}

// Validate checks p and the trigger status. Failures are *InvalidPayloadError.
func Validate(v *validatorv10.Validate, p WebhookPayload, trigger string) error {
	fields := map[string]string{}
	if err := v.Struct(p); err != nil {
		fields = validationErrorsToMap(err)
	}
	if p.FulfillmentStatus != "" && p.FulfillmentStatus != trigger {
		fields["fulfillment_status"] = fmt.Sprintf("status %q is not %q", p.FulfillmentStatus, trigger)
	}
	if len(fields) > 0 {
		return &InvalidPayloadError{Fields: fields}
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Error()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// CleanDigits strips everything but ASCII digits.
func CleanDigits(s string) string {
	return nonDigits.ReplaceAllString(s, "")
}

// ValidCPF reports whether s is a well-formed Brazilian CPF.
func ValidCPF(s string) bool {
	cpf := CleanDigits(s)
	if len(cpf) != 11 {
		return false
	}
	if strings.Count(cpf, cpf[:1]) == 11 {
		return false
	}
	return checkDigit(cpf[:9], 10) == cpf[9] && checkDigit(cpf[:10], 11) == cpf[10]
}

// ValidCNPJ reports whether s is a well-formed Brazilian CNPJ.
func ValidCNPJ(s string) bool {
	cnpj := CleanDigits(s)
	if len(cnpj) != 14 {
		return false
	}
	if strings.Count(cnpj, cnpj[:1]) == 14 {
		return false
	}
	return checkDigit(cnpj[:12], 5) == cnpj[12] && checkDigit(cnpj[:13], 6) == cnpj[13]
}

// checkDigit computes a mod-11 check digit. Weights count down from weight
// and wrap from 2 back to 9.
func checkDigit(digits string, weight int) byte {
	sum := 0
	for i := 0; i < len(digits); i++ {
		w := weight - i
		if w < 2 {
			w += 8
		}
		sum += int(digits[i]-'0') * w
	}
	d := 11 - sum%11
	if d >= 10 {
		d = 0
	}
	return byte('0' + d)
}

// Document returns the digits of doc when it is a valid CPF or CNPJ, and ""
// otherwise.
func Document(doc string) string {
	digits := CleanDigits(doc)
	switch len(digits) {
	case 11:
		if ValidCPF(digits) {
			return digits
		}
	case 14:
		if ValidCNPJ(digits) {
			return digits
		}
	}
	return ""
}

// Details converts a validated payload into the stored order details.
func (p WebhookPayload) Details() orders.Details {
	d := orders.Details{Total: float64(p.Total)}
	if p.Customer != nil {
		d.Customer = orders.Customer{
			Name:     strings.TrimSpace(p.Customer.Name),
			Email:    strings.TrimSpace(p.Customer.Email),
			Phone:    string(p.Customer.Phone),
			Document: CleanDigits(string(p.Customer.Document)),
		}
	}
	if addr := p.DeliveryAddress(); addr != nil {
		district := addr.District
		if district == "" {
			district = addr.Neighborhood
		}
		d.Address = orders.Address{
			Zipcode:    CleanDigits(string(addr.Zipcode)),
			Street:     addr.Street,
			Number:     string(addr.Number),
			Complement: addr.Complement,
			District:   district,
			City:       addr.City,
			State:      strings.ToUpper(strings.TrimSpace(addr.State)),
		}
	}
	for _, it := range p.Items {
		qty := int(it.Quantity)
		if qty < 1 {
			qty = 1
		}
		d.Items = append(d.Items, orders.Item{
			Weight:   float64(it.Weight),
			Length:   float64(it.Length),
			Height:   float64(it.Height),
			Width:    float64(it.Width),
			Quantity: qty,
			Price:    float64(it.Price),
		})
	}
	return d
}
