package bucket

import (
	"testing"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
)

func TestTruncation(t *testing.T) {
	// Non-UTC input normalizes to UTC
	loc := time.FixedZone("plus5", 5*3600)
	ts := time.Date(2026, 9, 1, 2, 45, 30, 0, loc) // 2026-08-31T21:45:30Z

	hour := TruncateHour(ts)
	want := time.Date(2026, 8, 31, 21, 0, 0, 0, time.UTC)
	if !hour.Equal(want) {
		t.Errorf("TruncateHour = %v, want %v", hour, want)
	}

	day := TruncateDay(ts)
	want = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !day.Equal(want) {
		t.Errorf("TruncateDay = %v, want %v", day, want)
	}
}

func TestKeyEnd(t *testing.T) {
	start := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

	h := Key{Granularity: Hour, Start: start}
	if !h.End().Equal(start.Add(time.Hour)) {
		t.Errorf("Hour end = %v", h.End())
	}
	d := Key{Granularity: Day, Start: TruncateDay(start)}
	if !d.End().Equal(TruncateDay(start).Add(24 * time.Hour)) {
		t.Errorf("Day end = %v", d.End())
	}
}

func TestKeysFor(t *testing.T) {
	rec := action.Record{
		Timestamp: time.Date(2026, 9, 1, 9, 30, 0, 0, time.UTC),
		Source:    "browser",
		Type:      "click",
	}

	keys := KeysFor(rec)
	if len(keys) != 6 {
		t.Fatalf("Expected 6 keys, got %d", len(keys))
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k.String()] = true
	}
	if len(seen) != 6 {
		t.Errorf("Keys not distinct: %v", seen)
	}

	hour := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	expect := []Key{
		{Granularity: Hour, Start: hour, Dimension: BySource, Value: "browser"},
		{Granularity: Hour, Start: hour, Dimension: ByType, Value: "click"},
		{Granularity: Hour, Start: hour, Dimension: Total},
		{Granularity: Day, Start: day, Dimension: BySource, Value: "browser"},
		{Granularity: Day, Start: day, Dimension: ByType, Value: "click"},
		{Granularity: Day, Start: day, Dimension: Total},
	}
	for _, want := range expect {
		if !seen[want.String()] {
			t.Errorf("Missing key %s", want.String())
		}
	}
}

func TestQueryMatches(t *testing.T) {
	hour := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	b := Bucket{Key: Key{Granularity: Hour, Start: hour, Dimension: BySource, Value: "browser"}}

	cases := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty matches all", Query{}, true},
		{"granularity match", Query{Granularity: Hour}, true},
		{"granularity mismatch", Query{Granularity: Day}, false},
		{"dimension match", Query{Dimension: BySource}, true},
		{"dimension mismatch", Query{Dimension: Total}, false},
		{"inside window", Query{Start: hour, End: hour.Add(time.Hour)}, true},
		{"before window", Query{Start: hour.Add(time.Hour)}, false},
		{"end is exclusive", Query{End: hour}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.q.Matches(b); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}
