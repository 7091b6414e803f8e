package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	dErrors "reconcile/pkg/domain-errors"
)

// Column widths of the contacts table.
const (
	maxPhoneLength = 15
	maxEmailLength = 255
)

// IdentifyRequest is the HTTP request body for POST /identify.
type IdentifyRequest struct {
	PhoneNumber PhoneNumber `json:"phoneNumber"`
	Email       *string     `json:"email"`
}

// Validate checks field sizes. Presence is checked by the service, which also
// owns trimming.
func (r *IdentifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if p := r.PhoneNumber.Value(); p != nil && len(strings.TrimSpace(*p)) > maxPhoneLength {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("phoneNumber must be at most %d characters", maxPhoneLength))
	}
	if r.Email != nil && len(strings.TrimSpace(*r.Email)) > maxEmailLength {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("email must be at most %d characters", maxEmailLength))
	}
	return nil
}

// PhoneNumber accepts a JSON string, an integer literal, or null. Integers are
// kept as their decimal text.
type PhoneNumber struct {
	value *string
}

func (p PhoneNumber) Value() *string {
	return p.value
}

func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		p.value = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		p.value = &s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or an integer")
	}
	s := n.String()
	if strings.ContainsAny(s, ".eE+-") {
		return fmt.Errorf("phoneNumber must be a string or an integer")
	}
	p.value = &s
	return nil
}
