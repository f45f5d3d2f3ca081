// Package models defines the normalized data structures shared across triageflow.
//
// Everything downstream of the wire adapters (session resolver, question normalizer,
// answers listing) consumes only these types.
package models

import (
	"encoding/json"
	"fmt"
)

// FlexString is a string that also accepts JSON numbers and null when decoding.
// Backends return ids as either strings or integers.
type FlexString string

// UnmarshalJSON accepts a JSON string, number, boolean or null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	if data[0] == '{' || data[0] == '[' {
		return fmt.Errorf("cannot decode %s into an identifier", data)
	}
	*f = FlexString(data)
	return nil
}

// String returns the underlying string.
func (f FlexString) String() string {
	return string(f)
}

// Identity is the authenticated subject returned by the identity service.
type Identity struct {
	ID        FlexString `json:"id"`
	Kind      string     `json:"kind,omitempty"`
	Status    string     `json:"status,omitempty"`
	CreatedAt string     `json:"created_at,omitempty"`
	UpdatedAt string     `json:"updated_at,omitempty"`
}

// SecurityGate is the secondary access-control state for sensitive health data.
type SecurityGate struct {
	State         string     `json:"state,omitempty"`
	GateRequired  bool       `json:"gate_required,omitempty"`
	DeviceTrusted bool       `json:"device_trusted,omitempty"`
	LockedUntil   FlexString `json:"locked_until,omitempty"`
	PanicLockedAt string     `json:"panic_locked_at,omitempty"`
	PINEnabled    bool       `json:"pin_enabled,omitempty"`
	SecretSet     bool       `json:"secret_set,omitempty"`
	SecretSetAt   string     `json:"secret_set_at,omitempty"`
}
