// Package service implements the operator-facing round operations. Every
// mutation goes through the same transition and registration machinery the
// automatic path uses; nothing here bypasses the lifecycle rules.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign_backend/internal/cache"
	"campaign_backend/internal/events"
	"campaign_backend/internal/maintenance"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/rounds/repository"
	"campaign_backend/internal/rounds/transport"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/apperr"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

// Registrar registers a round's stage jobs.
type Registrar interface {
	ScheduleRound(ctx context.Context, round domain.Round) error
}

// StageTrigger runs one stage through the lifecycle orchestrator.
type StageTrigger interface {
	HandleStageDue(ctx context.Context, roundID uuid.UUID, stage domain.Stage, attempt int) error
}

// MaintenanceLogSource lists maintenance run records.
type MaintenanceLogSource interface {
	ListByRound(ctx context.Context, roundID uuid.UUID) ([]maintenance.Log, error)
}

// Service provides the operator API's business logic.
type Service struct {
	repo      *repository.Repository
	jobs      *jobs.Repository
	registrar Registrar
	trigger   StageTrigger
	maintLogs MaintenanceLogSource
	cache     *cache.RoundCache
	bus       events.Bus
	log       *logger.Logger
}

// New creates the rounds service.
func New(
	repo *repository.Repository,
	jobRepo *jobs.Repository,
	registrar Registrar,
	trigger StageTrigger,
	maintLogs MaintenanceLogSource,
	roundCache *cache.RoundCache,
	bus events.Bus,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		jobs:      jobRepo,
		registrar: registrar,
		trigger:   trigger,
		maintLogs: maintLogs,
		cache:     roundCache,
		bus:       bus,
		log:       log,
	}
}

// CreateCampaign registers every round of a campaign and schedules their
// stage jobs. Round numbers follow the request's slice order.
func (s *Service) CreateCampaign(ctx context.Context, req transport.CreateCampaignRequest) ([]domain.Round, error) {
	rounds := make([]domain.Round, 0, len(req.Rounds))
	for i, rr := range req.Rounds {
		round, err := s.repo.Create(ctx, repository.CreateParams{
			CampaignName:   req.CampaignName,
			RoundNumber:    i + 1,
			ScheduledAt:    rr.ScheduledAt,
			ListID:         rr.ListID,
			RecipientCount: rr.RecipientCount,
		})
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateRound) {
				return nil, apperr.Conflict(fmt.Sprintf("round %d already exists for campaign %s", i+1, req.CampaignName))
			}
			return nil, apperr.Wrap(apperr.KindInternal, "could not create round", err)
		}

		if err := s.registrar.ScheduleRound(ctx, round); err != nil {
			// The round exists; its jobs will be repaired by the startup
			// reconciler, but the operator must hear about it now.
			s.log.Error("scheduling new round failed", "round_id", round.ID, "error", err)
			return nil, apperr.Wrap(apperr.KindInternal, "round created but scheduling failed", err)
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// GetRound returns one round, cache-assisted. The cache is advisory; a
// miss or a stale entry only costs a database read.
func (s *Service) GetRound(ctx context.Context, id uuid.UUID) (domain.Round, error) {
	if round, ok := s.cache.Get(ctx, id); ok {
		return round, nil
	}

	round, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Round{}, apperr.NotFound("round not found")
		}
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not load round", err)
	}

	s.cache.Set(ctx, round)
	return round, nil
}

// ListJobs returns the round's registered stage jobs.
func (s *Service) ListJobs(ctx context.Context, id uuid.UUID) ([]jobs.Job, error) {
	list, err := s.jobs.ListByRound(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not list stage jobs", err)
	}
	return list, nil
}

// ListLostRounds surfaces past-due rounds with no live stage job.
func (s *Service) ListLostRounds(ctx context.Context) ([]domain.Round, error) {
	lost, err := s.repo.ListLostRounds(ctx, time.Now())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not list lost rounds", err)
	}
	return lost, nil
}

// TriggerStage manually fires a stage for recovery. A blocked round is
// first restored to the stage's expected predecessor state; from there the
// firing takes the exact same validation path as a scheduled one.
func (s *Service) TriggerStage(ctx context.Context, id uuid.UUID, stageName string) (domain.Round, error) {
	if !domain.IsKnownStage(stageName) {
		return domain.Round{}, apperr.Validation(fmt.Sprintf("unknown stage %q", stageName))
	}
	stage := domain.Stage(stageName)
	tr := domain.Transitions[stage]

	round, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Round{}, apperr.NotFound("round not found")
		}
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not load round", err)
	}
	if round.State.IsTerminal() {
		return domain.Round{}, apperr.Conflict("round is cancelled")
	}

	if round.State == domain.StateBlocked {
		moved, err := s.repo.AdvanceState(ctx, id, domain.StateBlocked, tr.Expected)
		if err != nil {
			return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not resume blocked round", err)
		}
		if !moved {
			return domain.Round{}, apperr.Conflict("round state changed while resuming")
		}
	} else if round.State != tr.Expected {
		return domain.Round{}, apperr.Conflict(fmt.Sprintf(
			"stage %s expects a %s round, current state is %s", stage, tr.Expected, round.State))
	}

	if err := s.jobs.Reopen(ctx, id, stage); err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not reopen stage job", err)
	}

	// No queue is driving this firing, so a transient failure surfaces to
	// the operator directly instead of entering a retry loop.
	if err := s.trigger.HandleStageDue(ctx, id, stage, 0); err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "stage execution failed", err)
	}

	s.cache.Invalidate(ctx, id)
	round, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not reload round", err)
	}
	return round, nil
}

// Reschedule moves the round's launch instant. Legal only while the round
// is scheduled or ready; all future stage jobs are re-derived and stale
// ones dropped.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req transport.RescheduleRequest) (domain.Round, error) {
	round, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Round{}, apperr.NotFound("round not found")
		}
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not load round", err)
	}
	if !round.CanReschedule() {
		return domain.Round{}, apperr.Conflict(fmt.Sprintf("round in state %s cannot be rescheduled", round.State))
	}

	moved, err := s.repo.Reschedule(ctx, id, req.ScheduledAt)
	if err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not reschedule round", err)
	}
	if !moved {
		return domain.Round{}, apperr.Conflict("round state changed while rescheduling")
	}

	if err := s.jobs.DeleteForReschedule(ctx, id); err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not drop stale stage jobs", err)
	}

	round, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not reload round", err)
	}
	if err := s.registrar.ScheduleRound(ctx, round); err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not register new stage jobs", err)
	}

	s.cache.Invalidate(ctx, id)
	return round, nil
}

// Cancel terminates the round and withdraws its pending stage jobs.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.Round, error) {
	round, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Round{}, apperr.NotFound("round not found")
		}
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not load round", err)
	}
	if !round.CanCancel() {
		return domain.Round{}, apperr.Conflict("round is already cancelled")
	}

	cancelled, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not cancel round", err)
	}
	if !cancelled {
		return domain.Round{}, apperr.Conflict("round is already cancelled")
	}

	withdrawn, err := s.jobs.CancelPending(ctx, id)
	if err != nil {
		return domain.Round{}, apperr.Wrap(apperr.KindInternal, "could not withdraw stage jobs", err)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.RoundCancelled{
			BaseEvent:     events.NewBaseEvent(),
			RoundID:       id,
			CampaignName:  round.CampaignName,
			JobsCancelled: withdrawn,
		})
	}

	s.cache.Invalidate(ctx, id)
	round.State = domain.StateCancelled
	return round, nil
}

// MaintenanceLogs returns the round's maintenance history.
func (s *Service) MaintenanceLogs(ctx context.Context, id uuid.UUID) ([]maintenance.Log, error) {
	logs, err := s.maintLogs.ListByRound(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "could not list maintenance logs", err)
	}
	return logs, nil
}
