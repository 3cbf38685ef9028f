package scheduler

import (
	"context"
	"fmt"
	"time"

	"campaign_backend/internal/events"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/logger"

	"go.uber.org/multierr"
)

// Enqueued jobs whose fire time is this far past with no settlement are
// assumed lost to a crash and re-enqueued.
const staleEnqueuedAfter = 15 * time.Minute

// RoundSource is the rounds view the reconciler scans.
type RoundSource interface {
	ListNonTerminal(ctx context.Context) ([]domain.Round, error)
	ListLostRounds(ctx context.Context, now time.Time) ([]domain.Round, error)
}

// StaleJobSource surfaces enqueued jobs whose delivery never arrived.
type StaleJobSource interface {
	ListStaleEnqueued(ctx context.Context, olderThan time.Time) ([]jobs.Job, error)
}

// Registrar registers and requeues stage jobs.
type Registrar interface {
	ScheduleRound(ctx context.Context, round domain.Round) error
	RequeueJob(ctx context.Context, job jobs.Job) error
}

// Reconciler rebuilds scheduling state on worker startup. Registration is
// idempotent, so re-running ScheduleRound for every live round is free for
// the common case and repairs any registration a crash swallowed.
type Reconciler struct {
	rounds    RoundSource
	staleJobs StaleJobSource
	registrar Registrar
	bus       events.Bus
	log       *logger.Logger
}

// NewReconciler wires the startup reconciler.
func NewReconciler(rounds RoundSource, staleJobs StaleJobSource, registrar Registrar, bus events.Bus, log *logger.Logger) *Reconciler {
	return &Reconciler{
		rounds:    rounds,
		staleJobs: staleJobs,
		registrar: registrar,
		bus:       bus,
		log:       log,
	}
}

// Run performs one reconciliation pass. Per-round failures are collected,
// not short-circuited, so one bad round cannot stop the rest from being
// repaired.
func (r *Reconciler) Run(ctx context.Context) error {
	var errs error

	rounds, err := r.rounds.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("list rounds: %w", err)
	}
	for _, round := range rounds {
		if err := r.registrar.ScheduleRound(ctx, round); err != nil {
			r.log.Error("reconcile round failed", "round_id", round.ID, "error", err)
			errs = multierr.Append(errs, err)
		}
	}

	stale, err := r.staleJobs.ListStaleEnqueued(ctx, time.Now().Add(-staleEnqueuedAfter))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list stale jobs: %w", err))
	}
	for _, job := range stale {
		r.log.Warn("requeueing stale stage job",
			"round_id", job.RoundID, "stage", string(job.Stage), "fire_at", job.FireAt)
		if err := r.registrar.RequeueJob(ctx, job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("requeue %s for round %s: %w", job.Stage, job.RoundID, err))
		}
	}

	lost, err := r.rounds.ListLostRounds(ctx, time.Now())
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list lost rounds: %w", err))
	}
	for _, round := range lost {
		r.log.Error("round past due with no live stage job",
			"round_id", round.ID, "state", string(round.State))
		if r.bus != nil {
			r.bus.Publish(ctx, events.RoundJobLost{
				BaseEvent:    events.NewBaseEvent(),
				RoundID:      round.ID,
				CampaignName: round.CampaignName,
				State:        string(round.State),
			})
		}
	}

	r.log.Info("scheduling reconciliation complete",
		"rounds", len(rounds), "stale_jobs", len(stale), "lost_rounds", len(lost))
	return errs
}
