package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

type registryKey struct {
	roundID uuid.UUID
	stage   domain.Stage
}

// fakeRegistry mimics the unique (round_id, stage) key: the first Register
// for a pair creates, every later one returns the existing row.
type fakeRegistry struct {
	rows map[registryKey]*jobs.Job
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{rows: make(map[registryKey]*jobs.Job)}
}

func (f *fakeRegistry) Register(_ context.Context, roundID uuid.UUID, stage domain.Stage, fireAt time.Time) (jobs.Job, bool, error) {
	key := registryKey{roundID: roundID, stage: stage}
	if existing, ok := f.rows[key]; ok {
		return *existing, false, nil
	}
	job := &jobs.Job{
		ID:      uuid.New(),
		RoundID: roundID,
		Stage:   stage,
		FireAt:  fireAt,
		Status:  jobs.StatusPending,
	}
	f.rows[key] = job
	return *job, true, nil
}

func (f *fakeRegistry) MarkEnqueued(_ context.Context, id uuid.UUID) error {
	return f.setStatus(id, jobs.StatusEnqueued)
}

func (f *fakeRegistry) MarkFailed(_ context.Context, id uuid.UUID, _ string) error {
	return f.setStatus(id, jobs.StatusFailed)
}

func (f *fakeRegistry) setStatus(id uuid.UUID, status jobs.Status) error {
	for _, job := range f.rows {
		if job.ID == id {
			job.Status = status
			return nil
		}
	}
	return jobs.ErrJobNotFound
}

type fakeEnqueuer struct {
	enqueued []StageDuePayload
	runAts   []time.Time
	failOn   map[string]error // keyed by stage name
}

func (f *fakeEnqueuer) EnqueueStageDue(_ context.Context, payload StageDuePayload, runAt time.Time) error {
	if err := f.failOn[payload.Stage]; err != nil {
		return err
	}
	f.enqueued = append(f.enqueued, payload)
	f.runAts = append(f.runAts, runAt)
	return nil
}

type maintOn bool

func (m maintOn) IsMaintenanceEnabled() bool  { return bool(m) }
func (m maintOn) GetPartitionCount() int      { return 3 }
func (m maintOn) GetSoftBounceThreshold() int { return 3 }

func schedulableRound() domain.Round {
	return domain.Round{
		ID:           uuid.New(),
		CampaignName: "autumn-drive",
		RoundNumber:  1,
		ScheduledAt:  time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC),
		ListID:       "list-a",
		State:        domain.StateScheduled,
	}
}

func TestScheduleRoundRegistersEveryStageOnce(t *testing.T) {
	registry := newFakeRegistry()
	enq := &fakeEnqueuer{failOn: map[string]error{}}
	s := NewRoundScheduler(registry, enq, maintOn(true), logger.New("test"))
	round := schedulableRound()

	if err := s.ScheduleRound(context.Background(), round); err != nil {
		t.Fatalf("ScheduleRound() error = %v", err)
	}

	if len(registry.rows) != 6 {
		t.Fatalf("registered jobs = %d, want 6", len(registry.rows))
	}
	if len(enq.enqueued) != 6 {
		t.Fatalf("enqueued = %d, want 6", len(enq.enqueued))
	}
	launch := round.ScheduledAt
	wantFireAt := map[string]time.Time{
		"pre_launch":     launch.Add(-48 * time.Hour),
		"pre_flight":     launch.Add(-time.Hour),
		"launch_warning": launch.Add(-15 * time.Minute),
		"launch":         launch,
		"wrap_up":        launch.Add(2 * time.Hour),
		"maintenance":    launch.Add(24 * time.Hour),
	}
	for i, p := range enq.enqueued {
		if want := wantFireAt[p.Stage]; !enq.runAts[i].Equal(want) {
			t.Errorf("stage %s runAt = %v, want %v", p.Stage, enq.runAts[i], want)
		}
	}
	for key, job := range registry.rows {
		if job.Status != jobs.StatusEnqueued {
			t.Errorf("job %s status = %q, want enqueued", key.stage, job.Status)
		}
	}
}

func TestScheduleRoundTwiceIsIdempotent(t *testing.T) {
	registry := newFakeRegistry()
	enq := &fakeEnqueuer{failOn: map[string]error{}}
	s := NewRoundScheduler(registry, enq, maintOn(false), logger.New("test"))
	round := schedulableRound()

	if err := s.ScheduleRound(context.Background(), round); err != nil {
		t.Fatalf("first ScheduleRound() error = %v", err)
	}
	// A second call, as after a process restart, must not register or
	// enqueue anything new.
	if err := s.ScheduleRound(context.Background(), round); err != nil {
		t.Fatalf("second ScheduleRound() error = %v", err)
	}

	if len(registry.rows) != 5 {
		t.Errorf("registered jobs = %d, want 5", len(registry.rows))
	}
	if len(enq.enqueued) != 5 {
		t.Errorf("enqueued = %d, want 5", len(enq.enqueued))
	}
}

func TestScheduleRoundRecoversPendingRegistration(t *testing.T) {
	registry := newFakeRegistry()
	enq := &fakeEnqueuer{failOn: map[string]error{}}
	s := NewRoundScheduler(registry, enq, maintOn(false), logger.New("test"))
	round := schedulableRound()

	// Simulate a crash between the database insert and the queue handoff.
	registry.Register(context.Background(), round.ID, domain.StagePreFlight, round.ScheduledAt.Add(-time.Hour))

	if err := s.ScheduleRound(context.Background(), round); err != nil {
		t.Fatalf("ScheduleRound() error = %v", err)
	}

	if len(enq.enqueued) != 5 {
		t.Errorf("enqueued = %d, want 5 including the recovered pending job", len(enq.enqueued))
	}
	key := registryKey{roundID: round.ID, stage: domain.StagePreFlight}
	if registry.rows[key].Status != jobs.StatusEnqueued {
		t.Errorf("recovered job status = %q, want enqueued", registry.rows[key].Status)
	}
}

func TestScheduleRoundFailsLoudlyOnQueueError(t *testing.T) {
	registry := newFakeRegistry()
	enq := &fakeEnqueuer{failOn: map[string]error{"pre_flight": errors.New("redis unreachable")}}
	s := NewRoundScheduler(registry, enq, maintOn(false), logger.New("test"))
	round := schedulableRound()

	err := s.ScheduleRound(context.Background(), round)
	if err == nil {
		t.Fatal("ScheduleRound() = nil, want queue error surfaced")
	}

	key := registryKey{roundID: round.ID, stage: domain.StagePreFlight}
	if registry.rows[key].Status != jobs.StatusFailed {
		t.Errorf("job status = %q, want failed", registry.rows[key].Status)
	}
}
