// Package ingest accepts raw events from capture clients, normalizes them
// into action records, and appends them to the store.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/config"
)

// ErrDenied marks a well-formed event dropped by the denylist. It is not a
// fault: the client did nothing wrong, the event just carries no signal.
var ErrDenied = errors.New("ingest: event class denied")

// EventTime accepts the two timestamp encodings capture clients send:
// epoch seconds as a JSON number (possibly fractional) or an RFC 3339
// string. Absent means "server assigns now".
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return &action.ValidationError{Field: "timestamp", Reason: "must not be null"}
	}
	if len(s) > 0 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return &action.ValidationError{Field: "timestamp", Reason: "is not a string"}
		}
		parsed, err := time.Parse(time.RFC3339, str)
		if err != nil {
			return &action.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("is unparseable: %q", str)}
		}
		t.Time = parsed
		return nil
	}

	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return &action.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("is unparseable: %q", s)}
	}
	if sec <= 0 {
		return &action.ValidationError{Field: "timestamp", Reason: "must be positive"}
	}
	t.Time = time.UnixMicro(int64(sec * 1e6)).UTC()
	return nil
}

// RawEvent is the wire shape of one incoming event.
type RawEvent struct {
	Source    string          `json:"source"`
	Type      string          `json:"action_type"`
	Timestamp EventTime       `json:"timestamp"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// Normalizer validates and canonicalizes raw events. It is pure: no I/O,
// no mutation beyond the record it returns.
type Normalizer struct {
	denylist config.Denylist
	now      func() time.Time
}

// NewNormalizer creates a normalizer with the given denylist.
func NewNormalizer(denylist config.Denylist) *Normalizer {
	return &Normalizer{denylist: denylist, now: time.Now}
}

// Normalize turns a raw event into a storable record. It returns a
// *action.ValidationError for malformed events and ErrDenied for denylisted
// classes; both mean "do not store", only the former is the client's fault.
func (n *Normalizer) Normalize(raw RawEvent) (action.Record, error) {
	rec := action.Record{
		Source:    strings.TrimSpace(raw.Source),
		Type:      strings.TrimSpace(raw.Type),
		Timestamp: raw.Timestamp.Time,
		Context:   raw.Context,
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = n.now().UTC()
	} else {
		rec.Timestamp = rec.Timestamp.UTC()
	}

	if err := rec.Validate(); err != nil {
		return action.Record{}, err
	}
	if n.denylist.Blocked(rec.Source, rec.Type) {
		return action.Record{}, ErrDenied
	}
	return rec, nil
}
