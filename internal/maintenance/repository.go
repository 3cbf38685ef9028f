package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outcome records how a maintenance run ended.
type Outcome string

const (
	// OutcomeSuccess means suppression and rebalancing were fully applied.
	OutcomeSuccess Outcome = "success"
	// OutcomeRolledBack means the rebalance failed partway and every
	// partition was verifiably restored.
	OutcomeRolledBack Outcome = "rolledBack"
	// OutcomePartial means the rollback could not be verified and the
	// lists are in an unknown intermediate state. Maintenance halts for
	// the round until an operator reconciles it.
	OutcomePartial Outcome = "partial"
)

// Log is the audit record written after every maintenance run.
type Log struct {
	ID            uuid.UUID
	RoundID       uuid.UUID
	BeforeState   map[string]int
	Suppressed    int
	SuppressedIDs []string
	AfterState    map[string]int
	RollbackOf    *uuid.UUID
	Outcome       Outcome
	CreatedAt     time.Time
}

const errRepoNotConfigured = "maintenance repository not configured"

// Repository persists maintenance logs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a maintenance log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create writes one maintenance log.
func (r *Repository) Create(ctx context.Context, l Log) (Log, error) {
	if r == nil || r.pool == nil {
		return Log{}, errors.New(errRepoNotConfigured)
	}

	before, err := json.Marshal(l.BeforeState)
	if err != nil {
		return Log{}, err
	}
	after, err := json.Marshal(l.AfterState)
	if err != nil {
		return Log{}, err
	}
	var suppressedIDs []byte
	if l.SuppressedIDs != nil {
		if suppressedIDs, err = json.Marshal(l.SuppressedIDs); err != nil {
			return Log{}, err
		}
	}

	l.ID = uuid.New()
	err = r.pool.QueryRow(ctx,
		`INSERT INTO maintenance_logs
		   (id, round_id, before_state, suppressed, suppressed_ids, after_state, rollback_of, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		l.ID, l.RoundID, before, l.Suppressed, suppressedIDs, after, l.RollbackOf, string(l.Outcome),
	).Scan(&l.CreatedAt)
	if err != nil {
		return Log{}, err
	}
	return l, nil
}

// ListByRound returns a round's maintenance logs, newest first.
func (r *Repository) ListByRound(ctx context.Context, roundID uuid.UUID) ([]Log, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, round_id, before_state, suppressed, suppressed_ids, after_state, rollback_of, outcome, created_at
		 FROM maintenance_logs
		 WHERE round_id = $1
		 ORDER BY created_at DESC`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogs(rows)
}

// HasUnresolvedPartial reports whether the round's most recent maintenance
// run left the lists in an unverified state.
func (r *Repository) HasUnresolvedPartial(ctx context.Context, roundID uuid.UUID) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New(errRepoNotConfigured)
	}

	var outcome string
	err := r.pool.QueryRow(ctx,
		`SELECT outcome FROM maintenance_logs
		 WHERE round_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, roundID).Scan(&outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Outcome(outcome) == OutcomePartial, nil
}

// ListSuppressedContacts returns every contact id suppressed across all of
// a campaign's rounds. The pre-flight check uses this to assert none of
// them are still present on the launch list.
func (r *Repository) ListSuppressedContacts(ctx context.Context, campaignName string) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT c.id
		 FROM maintenance_logs m
		 JOIN rounds r ON r.id = m.round_id
		 CROSS JOIN LATERAL jsonb_array_elements_text(m.suppressed_ids) AS c(id)
		 WHERE r.campaign_name = $1
		   AND m.suppressed_ids IS NOT NULL
		 ORDER BY c.id`, campaignName)
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

func scanLogs(rows pgx.Rows) ([]Log, error) {
	var logs []Log
	for rows.Next() {
		var (
			l             Log
			before, after []byte
			suppressedIDs []byte
			outcome       string
		)
		if err := rows.Scan(&l.ID, &l.RoundID, &before, &l.Suppressed, &suppressedIDs,
			&after, &l.RollbackOf, &outcome, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(before, &l.BeforeState); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(after, &l.AfterState); err != nil {
			return nil, err
		}
		if suppressedIDs != nil {
			if err := json.Unmarshal(suppressedIDs, &l.SuppressedIDs); err != nil {
				return nil, err
			}
		}
		l.Outcome = Outcome(outcome)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
