// Package cleanup runs the maintenance cycle: fold aged records into their
// permanent buckets, lock the buckets, sample a fraction of the raw detail,
// and delete the rest. Phase order is the safety argument: nothing is
// deleted until its statistics are finalized.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/trackd-io/trackd/pkg/aggregate"
	"github.com/trackd-io/trackd/pkg/config"
	"github.com/trackd-io/trackd/pkg/retention"
	"github.com/trackd-io/trackd/pkg/storage"
)

// ErrCycleInProgress means another maintenance cycle holds the lock,
// in-process or recorded by a live peer.
var ErrCycleInProgress = errors.New("cleanup: cycle already in progress")

// CycleError wraps a phase failure so callers can tell how far the cycle got.
// Any phase may fail with the store intact: fold and finalize are atomic per
// batch, and a partial delete pass leaves its remaining candidates eligible
// for the next cycle because the retention mark has not advanced yet.
type CycleError struct {
	Phase string
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cleanup: %s phase failed: %v", e.Phase, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Options controls one cycle.
type Options struct {
	// DryRun computes and reports the plan without writing anything.
	DryRun bool

	// KeepDays is the fidelity window; records younger than this are never
	// candidates. Values below 1 are rejected.
	KeepDays int

	// SampleRate is the kept fraction of aged records, in [0, 1].
	SampleRate float64
}

// DefaultOptions returns the standing policy: preview only, 30 day window,
// 1% sample.
func DefaultOptions() Options {
	return Options{
		DryRun:     true,
		KeepDays:   config.DefaultKeepDays,
		SampleRate: config.DefaultSampleRate,
	}
}

// Report summarizes one cycle. In a dry run the destructive counters
// describe what a real run would have done.
type Report struct {
	Status           string    `json:"status"`
	DryRun           bool      `json:"dry_run"`
	Cutoff           time.Time `json:"cutoff"`
	SnapshotID       uint64    `json:"snapshot_id"`
	OldActions       int       `json:"old_actions"`
	SampledKept      int       `json:"sampled_kept"`
	Deleted          int       `json:"deleted"`
	RecordsFolded    int       `json:"records_folded"`
	BucketsFinalized int       `json:"buckets_finalized"`
	Duration         string    `json:"duration"`
}

// Orchestrator coordinates maintenance cycles over one store.
type Orchestrator struct {
	store  storage.Store
	engine *aggregate.Engine

	running atomic.Bool

	// Injected for tests
	now        func() time.Time
	newSampler func(rate float64) *retention.Sampler
}

// New creates an orchestrator.
func New(store storage.Store, engine *aggregate.Engine) *Orchestrator {
	return &Orchestrator{
		store:      store,
		engine:     engine,
		now:        time.Now,
		newSampler: retention.NewSampler,
	}
}

// Run executes one maintenance cycle.
//
// Mutual exclusion is two-layered: an in-process flag stops concurrent HTTP
// triggers, and a persisted cycle record stops a restarted process from
// starting a second destructive pass while a prior one may still be running.
// A persisted record older than the staleness bound belongs to a crashed
// cycle and is taken over.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.KeepDays < 1 {
		return nil, fmt.Errorf("cleanup: keep_days must be at least 1, got %d", opts.KeepDays)
	}
	if opts.SampleRate < 0 || opts.SampleRate > 1 {
		return nil, fmt.Errorf("cleanup: sample_rate must be in [0, 1], got %g", opts.SampleRate)
	}

	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer o.running.Store(false)

	started := o.now().UTC()
	cutoff := started.AddDate(0, 0, -opts.KeepDays)

	snapshotID, err := o.store.MaxID(ctx)
	if err != nil {
		return nil, &CycleError{Phase: "snapshot", Err: err}
	}

	report := &Report{
		Status:     "completed",
		DryRun:     opts.DryRun,
		Cutoff:     cutoff,
		SnapshotID: snapshotID,
	}

	if opts.DryRun {
		if err := o.preview(ctx, opts, report); err != nil {
			return nil, err
		}
		report.Duration = o.now().UTC().Sub(started).String()
		return report, nil
	}

	if err := o.acquireCycle(ctx, started, cutoff, snapshotID); err != nil {
		return nil, err
	}

	err = o.destructive(ctx, opts, report)
	if clearErr := o.store.ClearCycleState(ctx); clearErr != nil {
		log.Printf("Failed to clear cycle state: %v", clearErr)
	}
	if err != nil {
		return nil, err
	}

	report.Duration = o.now().UTC().Sub(started).String()
	log.Printf("Cleanup completed: folded=%d finalized=%d candidates=%d kept=%d deleted=%d in %s",
		report.RecordsFolded, report.BucketsFinalized, report.OldActions,
		report.SampledKept, report.Deleted, report.Duration)
	return report, nil
}

// preview computes the plan a real run would execute, without writes. The
// store is not modified, so the sampled survivor count is a fresh draw each
// call, not a commitment.
func (o *Orchestrator) preview(ctx context.Context, opts Options, report *Report) error {
	mark, err := o.store.RetentionMark(ctx)
	if err != nil {
		return &CycleError{Phase: "preview", Err: err}
	}

	plan, err := retention.BuildPlan(ctx, o.store, o.newSampler(opts.SampleRate),
		report.Cutoff, report.SnapshotID, mark)
	if err != nil {
		return &CycleError{Phase: "preview", Err: err}
	}

	report.OldActions = plan.Candidates
	report.SampledKept = plan.SampledKept
	report.Deleted = plan.Deletions()
	return nil
}

// acquireCycle claims the persisted cycle lock.
func (o *Orchestrator) acquireCycle(ctx context.Context, started, cutoff time.Time, snapshotID uint64) error {
	existing, err := o.store.CycleState(ctx)
	if err != nil {
		return &CycleError{Phase: "acquire", Err: err}
	}
	if existing != nil {
		if started.Sub(existing.StartedAt) < config.CycleStateStale {
			return ErrCycleInProgress
		}
		log.Printf("Taking over stale cleanup cycle (phase %s, started %s)",
			existing.Phase, existing.StartedAt.Format(time.RFC3339))
	}

	state := storage.CycleState{
		Phase:      "fold",
		StartedAt:  started,
		Cutoff:     cutoff,
		SnapshotID: snapshotID,
	}
	if err := o.store.SetCycleState(ctx, state); err != nil {
		return &CycleError{Phase: "acquire", Err: err}
	}
	return nil
}

func (o *Orchestrator) setPhase(ctx context.Context, report *Report, phase string, started time.Time) error {
	state := storage.CycleState{
		Phase:      phase,
		StartedAt:  started,
		Cutoff:     report.Cutoff,
		SnapshotID: report.SnapshotID,
	}
	return o.store.SetCycleState(ctx, state)
}

// destructive runs the four write phases in their fixed order.
func (o *Orchestrator) destructive(ctx context.Context, opts Options, report *Report) error {
	state, err := o.store.CycleState(ctx)
	if err != nil {
		return &CycleError{Phase: "fold", Err: err}
	}
	started := state.StartedAt

	// Phase 1: fold everything up to the snapshot, so every record that
	// could be deleted this cycle is already counted.
	fold, err := o.engine.Fold(ctx, report.SnapshotID)
	if err != nil {
		return &CycleError{Phase: "fold", Err: err}
	}
	report.RecordsFolded = fold.RecordsFolded

	// Phase 2: lock every bucket whose window has aged past the cutoff.
	if err := o.setPhase(ctx, report, "finalize", started); err != nil {
		return &CycleError{Phase: "finalize", Err: err}
	}
	finalized, err := o.store.FinalizeBefore(ctx, report.Cutoff)
	if err != nil {
		return &CycleError{Phase: "finalize", Err: err}
	}
	report.BucketsFinalized = finalized

	// Phase 3: sample survivors among candidates not covered by the
	// previous mark.
	if err := o.setPhase(ctx, report, "sample", started); err != nil {
		return &CycleError{Phase: "sample", Err: err}
	}
	mark, err := o.store.RetentionMark(ctx)
	if err != nil {
		return &CycleError{Phase: "sample", Err: err}
	}
	plan, err := retention.BuildPlan(ctx, o.store, o.newSampler(opts.SampleRate),
		report.Cutoff, report.SnapshotID, mark)
	if err != nil {
		return &CycleError{Phase: "sample", Err: err}
	}
	report.OldActions = plan.Candidates
	report.SampledKept = plan.SampledKept

	// Phase 4: delete the unsampled candidates in one atomic pass, then
	// advance the mark so the survivors are never re-sampled.
	if err := o.setPhase(ctx, report, "delete", started); err != nil {
		return &CycleError{Phase: "delete", Err: err}
	}
	deleted, err := o.store.DeleteOlderThan(ctx, report.Cutoff, report.SnapshotID, plan.KeepIDs)
	if err != nil {
		return &CycleError{Phase: "delete", Err: err}
	}
	report.Deleted = deleted

	newMark := storage.RetentionMark{Cutoff: report.Cutoff, SnapshotID: report.SnapshotID}
	if err := o.store.SetRetentionMark(ctx, newMark); err != nil {
		return &CycleError{Phase: "delete", Err: err}
	}

	return nil
}
