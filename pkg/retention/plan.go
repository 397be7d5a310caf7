package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/trackd-io/trackd/pkg/action"
	"github.com/trackd-io/trackd/pkg/storage"
)

// Plan is the outcome of one sampling pass: which aged candidates were
// found and which of them survive. The plan is computed without writes, so
// dry runs can report it and discard it.
type Plan struct {
	Cutoff     time.Time
	SnapshotID uint64

	// Candidates is the number of records older than Cutoff that were not
	// already covered by a previous retention mark.
	Candidates int

	// SampledKept is how many candidates the sampler kept.
	SampledKept int

	// KeepIDs holds every aged record the delete pass must spare: this
	// cycle's sampled survivors plus survivors of earlier passes.
	KeepIDs map[uint64]struct{}
}

// Deletions returns how many records the plan would remove.
func (p *Plan) Deletions() int {
	return p.Candidates - p.SampledKept
}

// BuildPlan scans records older than cutoff (bounded by snapshotID) and
// samples survivors.
//
// Records already covered by a previous mark (timestamp before mark.Cutoff
// and id at or below mark.SnapshotID) are not re-sampled: they survived an
// earlier pass deliberately, and drawing on them again would thin the sample
// toward zero across repeated cycles. They still land in KeepIDs so the
// delete pass spares them. A record that is old but carries an id above the
// previous snapshot arrived late and has never been considered, so it is a
// candidate like any other.
func BuildPlan(ctx context.Context, actions storage.ActionStore, sampler *Sampler,
	cutoff time.Time, snapshotID uint64, mark *storage.RetentionMark) (*Plan, error) {

	plan := &Plan{
		Cutoff:     cutoff,
		SnapshotID: snapshotID,
		KeepIDs:    make(map[uint64]struct{}),
	}

	err := actions.ScanOlderThan(ctx, cutoff, snapshotID, func(rec action.Record) error {
		if mark != nil && rec.Timestamp.Before(mark.Cutoff) && rec.ID <= mark.SnapshotID {
			plan.KeepIDs[rec.ID] = struct{}{}
			return nil
		}
		plan.Candidates++
		if sampler.Keep() {
			plan.SampledKept++
			plan.KeepIDs[rec.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan retention candidates: %w", err)
	}

	return plan, nil
}
