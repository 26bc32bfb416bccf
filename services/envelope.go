package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

// FlexibleID accepts an identifier sent either as a JSON string or number.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("id must be a string or a number")
	}
	*f = FlexibleID(n.String())
	return nil
}

// WebhookEnvelope is the minimum shape every callback must have.
type WebhookEnvelope struct {
	ID     FlexibleID      `json:"id" validate:"required,max=128"`
	Type   string          `json:"type" validate:"required,max=64"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data" validate:"required"`

	data struct {
		ID FlexibleID `json:"id"`
	}
}

// PaymentID is data.id, the gateway's payment identifier.
func (e *WebhookEnvelope) PaymentID() string {
	return string(e.data.ID)
}

// ParseEnvelope decodes and validates body. Every error wraps
// ErrMalformedPayload.
func ParseEnvelope(body []byte, validate *validator.Validate) (*WebhookEnvelope, error) {
	var env WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: data must be an object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, &env.data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
	}
	return &env, nil
}
