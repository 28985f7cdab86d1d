package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrMalformed marks a body that is not valid JSON.
var ErrMalformed = errors.New("malformed json")

// maxBodyBytes bounds webhook bodies.
const maxBodyBytes = 1 << 20

// Decode parses a webhook body, unwrapping the {event, data} envelope.
// Syntax errors wrap ErrMalformed; valid JSON of the wrong shape is an
// *InvalidPayloadError.
func Decode(raw []byte) (WebhookPayload, error) {
	var p WebhookPayload
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return p, fmt.Errorf("%w: body is not valid JSON", ErrMalformed)
	}
	if raw[0] != '{' {
		return p, shapeError("body", "expected a JSON object")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return p, shapeError("body", err.Error())
	}
	if len(env.Event) > 0 && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		raw = bytes.TrimSpace(env.Data)
		if raw[0] != '{' {
			return p, shapeError("data", "expected a JSON object")
		}
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		field := "body"
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			field = typeErr.Field
		}
		return p, shapeError(field, err.Error())
	}
	return p, nil
}

func shapeError(field, msg string) error {
	return &InvalidPayloadError{Fields: map[string]string{field: msg}}
}

// BindPayload reads and decodes the request body into a webhook payload.
// If the body is malformed, it writes a 400 response and returns an error for the handler to short-circuit.
// Shape problems are returned without writing a response.
func BindPayload(c *gin.Context) (WebhookPayload, error) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
		return WebhookPayload{}, err
	}

	p, err := Decode(raw)
	if errors.Is(err, ErrMalformed) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid_request_body",
			"msg":   err.Error(),
		})
	}
	return p, err
}
