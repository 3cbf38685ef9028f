package scheduler

import (
	"context"
	"testing"
	"time"

	"campaign_backend/internal/events"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeRoundSource struct {
	live []domain.Round
	lost []domain.Round
}

func (f *fakeRoundSource) ListNonTerminal(_ context.Context) ([]domain.Round, error) {
	return f.live, nil
}

func (f *fakeRoundSource) ListLostRounds(_ context.Context, _ time.Time) ([]domain.Round, error) {
	return f.lost, nil
}

type fakeStaleSource struct {
	stale []jobs.Job
}

func (f *fakeStaleSource) ListStaleEnqueued(_ context.Context, _ time.Time) ([]jobs.Job, error) {
	return f.stale, nil
}

type fakeRegistrar struct {
	scheduled []uuid.UUID
	requeued  []uuid.UUID
}

func (f *fakeRegistrar) ScheduleRound(_ context.Context, round domain.Round) error {
	f.scheduled = append(f.scheduled, round.ID)
	return nil
}

func (f *fakeRegistrar) RequeueJob(_ context.Context, job jobs.Job) error {
	f.requeued = append(f.requeued, job.ID)
	return nil
}

type recordingBus struct {
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.published = append(b.published, e)
}

func (b *recordingBus) PublishSync(_ context.Context, e events.Event) error {
	b.published = append(b.published, e)
	return nil
}

func (b *recordingBus) Subscribe(_ string, _ events.Handler) {}

func TestReconcilerReschedulesLiveRounds(t *testing.T) {
	live := []domain.Round{
		{ID: uuid.New(), State: domain.StateScheduled},
		{ID: uuid.New(), State: domain.StateReady},
	}
	registrar := &fakeRegistrar{}
	r := NewReconciler(&fakeRoundSource{live: live}, &fakeStaleSource{}, registrar, &recordingBus{}, logger.New("test"))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(registrar.scheduled) != 2 {
		t.Errorf("scheduled rounds = %d, want 2", len(registrar.scheduled))
	}
}

func TestReconcilerRequeuesStaleJobs(t *testing.T) {
	stale := []jobs.Job{
		{ID: uuid.New(), RoundID: uuid.New(), Stage: domain.StageLaunch, Status: jobs.StatusEnqueued},
	}
	registrar := &fakeRegistrar{}
	r := NewReconciler(&fakeRoundSource{}, &fakeStaleSource{stale: stale}, registrar, &recordingBus{}, logger.New("test"))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(registrar.requeued) != 1 || registrar.requeued[0] != stale[0].ID {
		t.Errorf("requeued = %v, want the stale job", registrar.requeued)
	}
}

func TestReconcilerReportsLostRounds(t *testing.T) {
	lost := []domain.Round{
		{ID: uuid.New(), CampaignName: "autumn-drive", State: domain.StateReady},
	}
	bus := &recordingBus{}
	r := NewReconciler(&fakeRoundSource{lost: lost}, &fakeStaleSource{}, &fakeRegistrar{}, bus, logger.New("test"))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(bus.published) != 1 || bus.published[0].EventName() != "scheduling.round.job_lost" {
		t.Errorf("published = %v, want [scheduling.round.job_lost]", bus.published)
	}
}
