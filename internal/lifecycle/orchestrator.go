package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"campaign_backend/internal/events"
	"campaign_backend/internal/notify"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/rounds/repository"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/config"
	"campaign_backend/platform/lease"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

// RoundStore is the slice of the rounds repository the orchestrator uses.
type RoundStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Round, error)
	AdvanceState(ctx context.Context, id uuid.UUID, from, to domain.State) (bool, error)
	RecordLaunch(ctx context.Context, id uuid.UUID, externalCampaignID string) (bool, error)
	SetMetrics(ctx context.Context, id uuid.UUID, m domain.Metrics) error
}

// JobStore is the slice of the stage jobs repository the orchestrator uses.
type JobStore interface {
	Get(ctx context.Context, roundID uuid.UUID, stage domain.Stage) (jobs.Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkDiscarded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error
}

// RoundLocker serializes stage handling per round.
type RoundLocker interface {
	Acquire(ctx context.Context, key string) (*lease.Lease, error)
}

// Notifier posts informational stage messages to the campaign channel.
type Notifier interface {
	Notify(ctx context.Context, round domain.Round, stage domain.Stage, text string)
}

// MaintenanceRunner executes the post-launch list maintenance unit.
type MaintenanceRunner interface {
	Run(ctx context.Context, round domain.Round) StageResult
}

// Orchestrator applies the transition table when a stage job fires. It is
// the only component that mutates a round's lifecycle state outside the
// operator API.
type Orchestrator struct {
	rounds      RoundStore
	jobs        JobStore
	locks       RoundLocker
	actions     *Actions
	maintenance MaintenanceRunner
	notifier    Notifier
	bus         events.Bus
	maxAttempts int
	log         *logger.Logger
}

// NewOrchestrator wires the lifecycle orchestrator. maintenance may be nil
// when the maintenance stage is disabled.
func NewOrchestrator(
	rounds RoundStore,
	jobStore JobStore,
	locks RoundLocker,
	actions *Actions,
	maintenance MaintenanceRunner,
	notifier Notifier,
	bus events.Bus,
	cfg config.LifecycleConfig,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		rounds:      rounds,
		jobs:        jobStore,
		locks:       locks,
		actions:     actions,
		maintenance: maintenance,
		notifier:    notifier,
		bus:         bus,
		maxAttempts: cfg.GetMaxStageAttempts(),
		log:         log,
	}
}

// HandleStageDue processes one firing of a stage job. attempt is zero-based;
// a returned error requests a redelivery with backoff, nil means the firing
// is settled (done, discarded, blocked, or escalated).
func (o *Orchestrator) HandleStageDue(ctx context.Context, roundID uuid.UUID, stage domain.Stage, attempt int) error {
	tr, ok := domain.Transitions[stage]
	if !ok {
		o.log.Error("unknown stage in job payload", "round_id", roundID, "stage", string(stage))
		return nil
	}

	l, err := o.locks.Acquire(ctx, "round:"+roundID.String())
	if err != nil {
		if errors.Is(err, lease.ErrNotAcquired) {
			return fmt.Errorf("round %s is being handled elsewhere", roundID)
		}
		return fmt.Errorf("acquire round lease: %w", err)
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			o.log.Warn("round lease release failed", "round_id", roundID, "error", err)
		}
	}()

	job, err := o.jobs.Get(ctx, roundID, stage)
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		// Manual triggers may run without a registered job row.
		job = jobs.Job{}
	case err != nil:
		return fmt.Errorf("load stage job: %w", err)
	case job.Status.IsTerminal():
		// Duplicate delivery of an already settled firing.
		return nil
	}

	round, err := o.rounds.GetByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			o.markDiscarded(ctx, job)
			return nil
		}
		return fmt.Errorf("load round %s: %w", roundID, err)
	}

	if round.State != tr.Expected {
		o.log.StageDiscarded(roundID.String(), string(stage), string(round.State))
		o.markDiscarded(ctx, job)
		return nil
	}

	if stage == domain.StageLaunch {
		return o.handleLaunch(ctx, round, job, attempt)
	}

	var res StageResult
	var metrics domain.Metrics
	switch stage {
	case domain.StagePreLaunch, domain.StageLaunchWarning:
		// The stage's whole action is the chat notice posted below; the
		// dispatcher retries transport failures internally.
		res = Success()
	case domain.StagePreFlight:
		res = o.actions.PreFlight(ctx, round)
	case domain.StageWrapUp:
		metrics, res = o.actions.WrapUp(ctx, round)
	case domain.StageMaintenance:
		if o.maintenance == nil {
			o.markDiscarded(ctx, job)
			return nil
		}
		res = o.maintenance.Run(ctx, round)
	}

	o.log.StageEvent(roundID.String(), string(stage), string(res.Outcome))

	switch res.Outcome {
	case OutcomeSuccess:
		if stage == domain.StageWrapUp {
			if err := o.rounds.SetMetrics(ctx, round.ID, metrics); err != nil {
				o.recordAttempt(ctx, job, res.String())
				return fmt.Errorf("persist metrics: %w", err)
			}
			round.Metrics = &metrics
		}
		return o.settleSuccess(ctx, round, stage, tr, job)

	case OutcomeTransient:
		o.recordAttempt(ctx, job, res.String())
		if attempt+1 < o.maxAttempts {
			return fmt.Errorf("stage %s for round %s: %s", stage, roundID, res)
		}
		return o.exhaust(ctx, round, stage, job, res)

	case OutcomeBlocking:
		if stage == domain.StageMaintenance {
			// The maintenance runner already rolled back and alerted; a
			// completed round is not parked in blocked over it.
			o.markFailed(ctx, job, res.Reason)
			return nil
		}
		return o.block(ctx, round, stage, job, res.Reason)

	default:
		o.markFailed(ctx, job, res.String())
		o.log.Error("unhandled stage outcome", "round_id", roundID, "stage", string(stage), "outcome", string(res.Outcome))
		return nil
	}
}

// handleLaunch is the non-idempotent path. The round is parked in the
// launching state for the duration of the trigger so a crash leaves
// evidence that a send may be in flight.
func (o *Orchestrator) handleLaunch(ctx context.Context, round domain.Round, job jobs.Job, attempt int) error {
	moved, err := o.rounds.AdvanceState(ctx, round.ID, domain.StateReady, domain.StateLaunching)
	if err != nil {
		o.recordAttempt(ctx, job, err.Error())
		return fmt.Errorf("enter launching: %w", err)
	}
	if !moved {
		o.log.StageDiscarded(round.ID.String(), string(domain.StageLaunch), string(round.State))
		o.markDiscarded(ctx, job)
		return nil
	}

	externalID, res := o.actions.Launch(ctx, round)
	o.log.StageEvent(round.ID.String(), string(domain.StageLaunch), string(res.Outcome))

	switch res.Outcome {
	case OutcomeSuccess:
		recorded, err := o.rounds.RecordLaunch(ctx, round.ID, externalID)
		if err != nil {
			// The send went out; retrying would trigger it again. Park the
			// round in launching and escalate instead.
			o.markFailed(ctx, job, "send succeeded but external campaign id could not be recorded")
			o.publish(ctx, events.LaunchOutcomeUnknown{
				BaseEvent:    events.NewBaseEvent(),
				RoundID:      round.ID,
				CampaignName: round.CampaignName,
				Reason:       fmt.Sprintf("send succeeded but recording external campaign id failed: %v", err),
			})
			return nil
		}
		if !recorded {
			o.markDiscarded(ctx, job)
			return nil
		}
		round.State = domain.StateSent
		round.ExternalCampaignID = &externalID
		o.markDone(ctx, job)
		o.notifier.Notify(ctx, round, domain.StageLaunch, notify.StageMessage(round, domain.StageLaunch))
		return nil

	case OutcomeTransient:
		// The provider never acknowledged the trigger, so nothing was sent.
		// Rewind the launching marker so the retry passes validation.
		if _, err := o.rounds.AdvanceState(ctx, round.ID, domain.StateLaunching, domain.StateReady); err != nil {
			o.markFailed(ctx, job, res.String())
			return fmt.Errorf("rewind launching marker: %w", err)
		}
		o.recordAttempt(ctx, job, res.String())
		if attempt+1 < o.maxAttempts {
			return fmt.Errorf("launch for round %s: %s", round.ID, res)
		}
		round.State = domain.StateReady
		return o.block(ctx, round, domain.StageLaunch, job, fmt.Sprintf("send trigger failed %d times: %s", o.maxAttempts, res.Reason))

	case OutcomeBlocking:
		round.State = domain.StateLaunching
		return o.block(ctx, round, domain.StageLaunch, job, res.Reason)

	case OutcomeAmbiguous:
		o.markFailed(ctx, job, res.String())
		o.publish(ctx, events.LaunchOutcomeUnknown{
			BaseEvent:    events.NewBaseEvent(),
			RoundID:      round.ID,
			CampaignName: round.CampaignName,
			Reason:       res.Reason,
		})
		return nil

	default:
		o.markFailed(ctx, job, res.String())
		return nil
	}
}

// settleSuccess advances the round per the transition table and posts the
// stage's campaign-channel message.
func (o *Orchestrator) settleSuccess(ctx context.Context, round domain.Round, stage domain.Stage, tr domain.Transition, job jobs.Job) error {
	if tr.OnSuccess != tr.Expected {
		moved, err := o.rounds.AdvanceState(ctx, round.ID, tr.Expected, tr.OnSuccess)
		if err != nil {
			o.recordAttempt(ctx, job, err.Error())
			return fmt.Errorf("advance %s to %s: %w", tr.Expected, tr.OnSuccess, err)
		}
		if !moved {
			o.markDiscarded(ctx, job)
			return nil
		}
		round.State = tr.OnSuccess
	}

	o.markDone(ctx, job)
	o.notifier.Notify(ctx, round, stage, notify.StageMessage(round, stage))
	return nil
}

// exhaust settles a stage whose transient retries ran out.
func (o *Orchestrator) exhaust(ctx context.Context, round domain.Round, stage domain.Stage, job jobs.Job, res StageResult) error {
	switch stage {
	case domain.StagePreFlight:
		return o.block(ctx, round, stage, job, fmt.Sprintf("pre-flight could not complete after %d attempts: %s", o.maxAttempts, res.Reason))

	case domain.StageWrapUp:
		// Metrics are best-effort; complete the round without them.
		o.markFailed(ctx, job, res.String())
		if _, err := o.rounds.AdvanceState(ctx, round.ID, domain.StateSent, domain.StateCompleted); err != nil {
			return fmt.Errorf("complete round without metrics: %w", err)
		}
		round.State = domain.StateCompleted
		o.publish(ctx, events.MetricsUnavailable{
			BaseEvent:    events.NewBaseEvent(),
			RoundID:      round.ID,
			CampaignName: round.CampaignName,
			Reason:       res.String(),
		})
		o.notifier.Notify(ctx, round, stage, notify.StageMessage(round, stage))
		return nil

	default:
		o.markFailed(ctx, job, res.String())
		o.log.Error("stage retries exhausted", "round_id", round.ID, "stage", string(stage), "reason", res.String())
		return nil
	}
}

// block parks the round and raises the operator alert via the event bus.
func (o *Orchestrator) block(ctx context.Context, round domain.Round, stage domain.Stage, job jobs.Job, reason string) error {
	o.markFailed(ctx, job, reason)

	moved, err := o.rounds.AdvanceState(ctx, round.ID, round.State, domain.StateBlocked)
	if err != nil {
		return fmt.Errorf("block round: %w", err)
	}
	if !moved {
		o.log.Warn("round state moved while blocking", "round_id", round.ID, "stage", string(stage))
	}

	o.publish(ctx, events.RoundBlocked{
		BaseEvent:    events.NewBaseEvent(),
		RoundID:      round.ID,
		CampaignName: round.CampaignName,
		Stage:        stage,
		Reason:       reason,
	})
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.bus != nil {
		o.bus.Publish(ctx, e)
	}
}

func (o *Orchestrator) markDone(ctx context.Context, job jobs.Job) {
	if job.ID == uuid.Nil {
		return
	}
	if err := o.jobs.MarkDone(ctx, job.ID); err != nil {
		o.log.DatabaseError("mark stage job done", err)
	}
}

func (o *Orchestrator) markDiscarded(ctx context.Context, job jobs.Job) {
	if job.ID == uuid.Nil {
		return
	}
	if err := o.jobs.MarkDiscarded(ctx, job.ID); err != nil {
		o.log.DatabaseError("mark stage job discarded", err)
	}
}

func (o *Orchestrator) markFailed(ctx context.Context, job jobs.Job, lastError string) {
	if job.ID == uuid.Nil {
		return
	}
	if err := o.jobs.MarkFailed(ctx, job.ID, lastError); err != nil {
		o.log.DatabaseError("mark stage job failed", err)
	}
}

func (o *Orchestrator) recordAttempt(ctx context.Context, job jobs.Job, lastError string) {
	if job.ID == uuid.Nil {
		return
	}
	if err := o.jobs.RecordAttempt(ctx, job.ID, lastError); err != nil {
		o.log.DatabaseError("record stage job attempt", err)
	}
}
