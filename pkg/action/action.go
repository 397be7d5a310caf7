// Package action defines the canonical record shape shared by every
// component: capture clients produce them, the store persists them, and the
// aggregation and retention engines consume them.
package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Well-known capture sources. Source is an open set: unknown values are
// accepted as long as they are non-empty.
const (
	SourceBrowser = "browser"
	SourceEditor  = "editor"
	SourceSystem  = "system"
)

// Record is one captured behavioral event.
//
// ID is assigned by the store on append, strictly increasing in insertion
// order, and immutable afterwards. Timestamp is source-supplied and may lag
// ID order (sources batch and retry). Context is an opaque, source-defined
// payload; the engine stores and returns it byte-faithful without
// understanding its structure.
type Record struct {
	ID        uint64          `json:"id" cbor:"1,keyasint"`
	Timestamp time.Time       `json:"timestamp" cbor:"2,keyasint"`
	Source    string          `json:"source" cbor:"3,keyasint"`
	Type      string          `json:"action_type" cbor:"4,keyasint"`
	Context   json.RawMessage `json:"context,omitempty" cbor:"5,keyasint,omitempty"`
}

// ValidationError reports a malformed raw event. It is a rejection result,
// not a system fault: ingestion swallows it into a per-record error response
// and keeps going.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Validate checks the invariants every stored record must satisfy.
func (r *Record) Validate() error {
	if r.Source == "" {
		return &ValidationError{Field: "source", Reason: "is required"}
	}
	if r.Type == "" {
		return &ValidationError{Field: "action_type", Reason: "is required"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}
