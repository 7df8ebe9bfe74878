package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rivo/uniseg"
)

// MaxStatusBytes bounds the encoded status so an adversarial payload cannot
// smuggle arbitrary text behind a single grapheme cluster.
const MaxStatusBytes = 32

// Rejection reason codes, stable for diagnostics.
const (
	ReasonMalformed = "malformed"
	ReasonMissing   = "missing"
	ReasonTooLong   = "too_long"
	ReasonBadFormat = "bad_format"
)

// ValidationError reports why a candidate payload was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: field %q: %s", e.Field, e.Reason)
}

// Payload is the wire shape of a status record's content.
type Payload struct {
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// Decode parses a raw wire payload. Malformed JSON is a validation failure,
// not an internal error.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, &ValidationError{Field: "payload", Reason: ReasonMalformed}
	}
	return p, nil
}

// Validate checks a payload against the registered status record schema:
// status must be present, render as exactly one grapheme cluster and stay
// within MaxStatusBytes; createdAt must be an RFC3339 timestamp. Pure, no
// side effects.
func Validate(p Payload) error {
	if p.Status == "" {
		return &ValidationError{Field: "status", Reason: ReasonMissing}
	}
	if len(p.Status) > MaxStatusBytes {
		return &ValidationError{Field: "status", Reason: ReasonTooLong}
	}
	if uniseg.GraphemeClusterCount(p.Status) != 1 {
		return &ValidationError{Field: "status", Reason: ReasonTooLong}
	}
	if p.CreatedAt == "" {
		return &ValidationError{Field: "createdAt", Reason: ReasonMissing}
	}
	if _, err := time.Parse(time.RFC3339, p.CreatedAt); err != nil {
		return &ValidationError{Field: "createdAt", Reason: ReasonBadFormat}
	}
	return nil
}

// ParseCreatedAt converts a validated createdAt into a time value.
func ParseCreatedAt(p Payload) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, p.CreatedAt)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "createdAt", Reason: ReasonBadFormat}
	}
	return t.UTC(), nil
}
