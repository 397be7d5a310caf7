// Package bucket defines permanent rollup buckets and the pure math that
// maps an action record onto them. Buckets survive deletion of the detail
// rows they summarize; once a bucket is finalized its count is locked.
package bucket

import (
	"fmt"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
)

// Granularity is the width of a bucket's time window.
type Granularity string

const (
	Hour Granularity = "hour"
	Day  Granularity = "day"
)

// Dimension is what a bucket counts over.
type Dimension string

const (
	BySource Dimension = "source"
	ByType   Dimension = "action_type"
	Total    Dimension = "total" // no dimension, overall volume
)

// Key identifies one bucket. Start is the window start truncated to the
// granularity in UTC. Value is the dimension value (empty for Total).
type Key struct {
	Granularity Granularity `json:"granularity" cbor:"1,keyasint"`
	Start       time.Time   `json:"start" cbor:"2,keyasint"`
	Dimension   Dimension   `json:"dimension" cbor:"3,keyasint"`
	Value       string      `json:"value,omitempty" cbor:"4,keyasint,omitempty"`
}

// Bucket is a permanent, monotonically updated rollup. Count only grows;
// Final locks it against further increments.
type Bucket struct {
	Key       Key       `json:"key" cbor:"1,keyasint"`
	Count     uint64    `json:"count" cbor:"2,keyasint"`
	Final     bool      `json:"final,omitempty" cbor:"3,keyasint,omitempty"`
	UpdatedAt time.Time `json:"updated_at" cbor:"4,keyasint"`
}

// Delta is one pending increment produced by folding records.
type Delta struct {
	Key   Key
	Count uint64
}

// End returns the first instant after the bucket's window.
func (k Key) End() time.Time {
	switch k.Granularity {
	case Hour:
		return k.Start.Add(time.Hour)
	case Day:
		return k.Start.Add(24 * time.Hour)
	}
	return k.Start
}

// String renders a stable form usable as a map key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.Granularity, k.Start.Unix(), k.Dimension, k.Value)
}

// TruncateHour rounds t down to the start of its hour in UTC.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// TruncateDay rounds t down to the start of its UTC day.
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// KeysFor returns every bucket a record contributes to: hourly and daily
// counts per source, per action type, and overall.
func KeysFor(rec action.Record) []Key {
	hour := TruncateHour(rec.Timestamp)
	day := TruncateDay(rec.Timestamp)

	return []Key{
		{Granularity: Hour, Start: hour, Dimension: BySource, Value: rec.Source},
		{Granularity: Hour, Start: hour, Dimension: ByType, Value: rec.Type},
		{Granularity: Hour, Start: hour, Dimension: Total},
		{Granularity: Day, Start: day, Dimension: BySource, Value: rec.Source},
		{Granularity: Day, Start: day, Dimension: ByType, Value: rec.Type},
		{Granularity: Day, Start: day, Dimension: Total},
	}
}

// Query filters bucket listings. Zero values match everything.
type Query struct {
	Granularity Granularity
	Dimension   Dimension
	Start       time.Time
	End         time.Time
}

// Matches reports whether b satisfies q.
func (q Query) Matches(b Bucket) bool {
	if q.Granularity != "" && b.Key.Granularity != q.Granularity {
		return false
	}
	if q.Dimension != "" && b.Key.Dimension != q.Dimension {
		return false
	}
	if !q.Start.IsZero() && b.Key.Start.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && !b.Key.Start.Before(q.End) {
		return false
	}
	return true
}
