// Package jobs provides pgx-backed persistence for stage jobs: the durable,
// uniquely keyed (round, stage) scheduled units of work. The unique key is
// what makes registration idempotent no matter how many scheduling passes
// run after a restart.
package jobs

import (
	"context"
	"errors"
	"time"

	"campaign_backend/internal/rounds/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the lifecycle state of a stage job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEnqueued  Status = "enqueued"
	StatusDone      Status = "done"
	StatusDiscarded Status = "discarded"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the job will never fire again.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusDiscarded || s == StatusCancelled || s == StatusFailed
}

const errRepoNotConfigured = "stage jobs repository not configured"

// ErrJobNotFound is returned when a stage job does not exist.
var ErrJobNotFound = errors.New("stage job not found")

// Job is a durable scheduled trigger for one (round, stage) pair.
type Job struct {
	ID        uuid.UUID
	RoundID   uuid.UUID
	Stage     domain.Stage
	FireAt    time.Time
	Status    Status
	Attempts  int
	LastError *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists stage jobs.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a stage jobs repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Register inserts a stage job for (roundID, stage) unless a job already
// exists for that key. Returns the job and whether this call created it;
// created == false means a previous registration already owns the key and
// the caller must not enqueue a second trigger.
func (r *Repository) Register(ctx context.Context, roundID uuid.UUID, stage domain.Stage, fireAt time.Time) (Job, bool, error) {
	if r == nil || r.pool == nil {
		return Job{}, false, errors.New(errRepoNotConfigured)
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO stage_jobs (round_id, stage, fire_at, status)
		 VALUES ($1, $2, $3, 'pending')
		 ON CONFLICT (round_id, stage) DO NOTHING
		 RETURNING id, round_id, stage, fire_at, status, attempts, last_error, created_at, updated_at`,
		roundID, string(stage), fireAt)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := r.Get(ctx, roundID, stage)
		if err != nil {
			return Job{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return Job{}, false, err
	}
	return job, true, nil
}

// Get loads the job for a (round, stage) key.
func (r *Repository) Get(ctx context.Context, roundID uuid.UUID, stage domain.Stage) (Job, error) {
	if r == nil || r.pool == nil {
		return Job{}, errors.New(errRepoNotConfigured)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT id, round_id, stage, fire_at, status, attempts, last_error, created_at, updated_at
		 FROM stage_jobs WHERE round_id = $1 AND stage = $2`,
		roundID, string(stage))
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return job, err
}

// ListByRound returns all jobs for a round.
func (r *Repository) ListByRound(ctx context.Context, roundID uuid.UUID) ([]Job, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, round_id, stage, fire_at, status, attempts, last_error, created_at, updated_at
		 FROM stage_jobs WHERE round_id = $1 ORDER BY fire_at ASC`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, job)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

// MarkEnqueued records that the job trigger was handed to the queue.
func (r *Repository) MarkEnqueued(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, StatusEnqueued, nil)
}

// MarkDone records successful execution of the job's stage action.
func (r *Repository) MarkDone(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, StatusDone, nil)
}

// MarkDiscarded records that the job fired against an unexpected round
// state and was dropped without side effects.
func (r *Repository) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(ctx, id, StatusDiscarded, nil)
}

// MarkFailed records a terminal failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.setStatus(ctx, id, StatusFailed, &lastError)
}

// Reopen puts a settled job back in the enqueued state so an operator can
// re-trigger its stage. Pending and already-successful jobs are left alone.
func (r *Repository) Reopen(ctx context.Context, roundID uuid.UUID, stage domain.Stage) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE stage_jobs
		 SET status = 'enqueued', updated_at = now()
		 WHERE round_id = $1 AND stage = $2 AND status IN ('failed', 'discarded')`,
		roundID, string(stage))
	return err
}

// RecordAttempt increments the attempt counter and stores the error that
// caused the retry.
func (r *Repository) RecordAttempt(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE stage_jobs
		 SET attempts = attempts + 1, last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError)
	return err
}

// CancelPending cancels every job for the round that has not fired yet.
// Returns the number of jobs cancelled.
func (r *Repository) CancelPending(ctx context.Context, roundID uuid.UUID) (int, error) {
	if r == nil || r.pool == nil {
		return 0, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE stage_jobs SET status = 'cancelled', updated_at = now()
		 WHERE round_id = $1 AND status IN ('pending', 'enqueued')`,
		roundID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteForReschedule removes the round's unfired jobs so a rescheduled
// round can register fresh fire times under the same (round, stage) keys.
func (r *Repository) DeleteForReschedule(ctx context.Context, roundID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`DELETE FROM stage_jobs WHERE round_id = $1 AND status IN ('pending', 'enqueued')`,
		roundID)
	return err
}

// ListStaleEnqueued returns jobs stuck in enqueued whose fire time passed
// more than the staleness window ago. The reconciler requeues them after a
// crash between enqueue and execution.
func (r *Repository) ListStaleEnqueued(ctx context.Context, olderThan time.Time) ([]Job, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, round_id, stage, fire_at, status, attempts, last_error, created_at, updated_at
		 FROM stage_jobs
		 WHERE status = 'enqueued' AND fire_at < $1
		 ORDER BY fire_at ASC`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, job)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func (r *Repository) setStatus(ctx context.Context, id uuid.UUID, status Status, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE stage_jobs SET status = $2, last_error = COALESCE($3, last_error), updated_at = now()
		 WHERE id = $1`,
		id, string(status), lastError)
	return err
}

func scanJob(row pgx.Row) (Job, error) {
	var (
		job    Job
		stage  string
		status string
	)
	err := row.Scan(&job.ID, &job.RoundID, &stage, &job.FireAt, &status,
		&job.Attempts, &job.LastError, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return Job{}, err
	}
	job.Stage = domain.Stage(stage)
	job.Status = Status(status)
	return job, nil
}
