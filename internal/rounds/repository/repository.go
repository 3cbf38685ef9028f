// Package repository provides pgx-backed persistence for campaign rounds.
// The rounds table is the single source of truth for lifecycle state; every
// state-advancing update carries a state-equality predicate so two racing
// workers can never both advance the same transition.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campaign_backend/internal/rounds/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a round does not exist.
var ErrNotFound = errors.New("round not found")

// ErrDuplicateRound is returned when (campaign_name, round_number) already exists.
var ErrDuplicateRound = errors.New("round already exists for campaign")

const errRepoNotConfigured = "rounds repository not configured"

const roundColumns = `id, campaign_name, round_number, scheduled_at, list_id,
	recipient_count, state, notification_status, external_campaign_id, metrics,
	created_at, updated_at`

// Repository persists rounds.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a rounds repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams are the inputs for registering one round of a campaign.
type CreateParams struct {
	CampaignName   string
	RoundNumber    int
	ScheduledAt    time.Time
	ListID         string
	RecipientCount int
}

// Create registers a new round in the scheduled state.
func (r *Repository) Create(ctx context.Context, p CreateParams) (domain.Round, error) {
	if r == nil || r.pool == nil {
		return domain.Round{}, errors.New(errRepoNotConfigured)
	}
	if p.CampaignName == "" {
		return domain.Round{}, fmt.Errorf("campaignName is required")
	}
	if p.RoundNumber < 1 {
		return domain.Round{}, fmt.Errorf("roundNumber must be positive")
	}

	status, err := json.Marshal(map[domain.Stage]domain.NotificationState{})
	if err != nil {
		return domain.Round{}, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO rounds (campaign_name, round_number, scheduled_at, list_id, recipient_count, state, notification_status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+roundColumns,
		p.CampaignName, p.RoundNumber, p.ScheduledAt, p.ListID, p.RecipientCount, string(domain.StateScheduled), status,
	)

	round, err := scanRound(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Round{}, ErrDuplicateRound
		}
		return domain.Round{}, err
	}
	return round, nil
}

// GetByID loads a round.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Round, error) {
	if r == nil || r.pool == nil {
		return domain.Round{}, errors.New(errRepoNotConfigured)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = $1`, id)
	round, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Round{}, ErrNotFound
	}
	return round, err
}

// ListNonTerminal returns every round that may still have stages to run.
// The reconciler re-registers stage jobs for all of them on process start.
func (r *Repository) ListNonTerminal(ctx context.Context) ([]domain.Round, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds
		 WHERE state NOT IN ('cancelled', 'blocked')
		 ORDER BY scheduled_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRounds(rows)
}

// ListLostRounds finds non-terminal rounds whose launch instant is in the
// past but which have no live or failed stage job. These indicate a lost
// scheduling registration and are surfaced for alerting.
func (r *Repository) ListLostRounds(ctx context.Context, now time.Time) ([]domain.Round, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds r
		 WHERE r.state NOT IN ('cancelled', 'completed', 'blocked')
		   AND r.scheduled_at < $1
		   AND NOT EXISTS (
			SELECT 1 FROM stage_jobs j
			WHERE j.round_id = r.id
			  AND j.status IN ('pending', 'enqueued', 'failed')
		 )
		 ORDER BY r.scheduled_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRounds(rows)
}

// ListPartitionIDs returns the campaign's distinct list partitions. Each
// round of a campaign sends to its own list; together they form the
// partition set the maintenance stage rebalances.
func (r *Repository) ListPartitionIDs(ctx context.Context, campaignName string) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (list_id) list_id FROM rounds
		 WHERE campaign_name = $1
		 ORDER BY list_id, round_number ASC`, campaignName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AdvanceState moves a round from one state to another. The from-state is
// part of the WHERE clause; returns false when the round was not in the
// expected state, which callers treat as a lost race, not an error.
func (r *Repository) AdvanceState(ctx context.Context, id uuid.UUID, from, to domain.State) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE rounds SET state = $3, updated_at = now()
		 WHERE id = $1 AND state = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLaunch persists the provider's campaign id and completes the
// launching -> sent transition in one atomic update.
func (r *Repository) RecordLaunch(ctx context.Context, id uuid.UUID, externalCampaignID string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE rounds SET state = $2, external_campaign_id = $3, updated_at = now()
		 WHERE id = $1 AND state = $4`,
		id, string(domain.StateSent), externalCampaignID, string(domain.StateLaunching))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetMetrics stores wrap-up delivery metrics.
func (r *Repository) SetMetrics(ctx context.Context, id uuid.UUID, m domain.Metrics) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE rounds SET metrics = $2, updated_at = now() WHERE id = $1`,
		id, data)
	return err
}

// SetNotificationStatus records the chat notification outcome for a stage.
func (r *Repository) SetNotificationStatus(ctx context.Context, id uuid.UUID, stage domain.Stage, state domain.NotificationState) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE rounds
		 SET notification_status = notification_status || jsonb_build_object($2::text, $3::text),
		     updated_at = now()
		 WHERE id = $1`,
		id, string(stage), string(state))
	return err
}

// Reschedule updates scheduled_at. Only legal while the round has not
// started launching; the state predicate enforces that atomically.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, scheduledAt time.Time) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE rounds SET scheduled_at = $2, state = $3, updated_at = now()
		 WHERE id = $1 AND state IN ('scheduled', 'ready')`,
		id, scheduledAt, string(domain.StateScheduled))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel transitions the round to the terminal cancelled state.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE rounds SET state = $2, updated_at = now()
		 WHERE id = $1 AND state <> $2`,
		id, string(domain.StateCancelled))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanRound(row pgx.Row) (domain.Round, error) {
	var (
		round      domain.Round
		state      string
		statusData []byte
		metricData []byte
	)
	err := row.Scan(&round.ID, &round.CampaignName, &round.RoundNumber, &round.ScheduledAt,
		&round.ListID, &round.RecipientCount, &state, &statusData,
		&round.ExternalCampaignID, &metricData, &round.CreatedAt, &round.UpdatedAt)
	if err != nil {
		return domain.Round{}, err
	}

	round.State = domain.State(state)
	round.NotificationStatus = map[domain.Stage]domain.NotificationState{}
	if len(statusData) > 0 {
		if err := json.Unmarshal(statusData, &round.NotificationStatus); err != nil {
			return domain.Round{}, fmt.Errorf("decode notification status: %w", err)
		}
	}
	if len(metricData) > 0 {
		var m domain.Metrics
		if err := json.Unmarshal(metricData, &m); err != nil {
			return domain.Round{}, fmt.Errorf("decode metrics: %w", err)
		}
		round.Metrics = &m
	}
	return round, nil
}

func scanRounds(rows pgx.Rows) ([]domain.Round, error) {
	var results []domain.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, round)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}
