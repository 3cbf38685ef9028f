// Package scheduler owns stage job registration and delivery. Registration
// is idempotent on the (round, stage) database key; the redis queue is only
// the delayed-delivery mechanism and never the idempotency authority.
package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"campaign_backend/internal/rounds/domain"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// The orchestrator settles every failure well before this many deliveries;
// the queue-level cap only guards against a handler bug.
const queueMaxRetry = 10

// Client enqueues stage-due tasks for delayed delivery.
type Client struct {
	client *asynq.Client
	queue  string
}

// NewClient creates the asynq enqueue client.
func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueStageDue schedules one stage-due delivery at runAt. Past runAt
// values deliver immediately.
func (c *Client) EnqueueStageDue(ctx context.Context, payload StageDuePayload, runAt time.Time) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("scheduler client not configured")
	}

	task, err := NewStageDueTask(payload)
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(runAt),
		asynq.Queue(c.queue),
		asynq.MaxRetry(queueMaxRetry),
	)
	return err
}

// Enqueuer is the queue-side dependency of the round scheduler.
type Enqueuer interface {
	EnqueueStageDue(ctx context.Context, payload StageDuePayload, runAt time.Time) error
}

// JobRegistry is the database-side dependency of the round scheduler.
type JobRegistry interface {
	Register(ctx context.Context, roundID uuid.UUID, stage domain.Stage, fireAt time.Time) (jobs.Job, bool, error)
	MarkEnqueued(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// RoundScheduler derives and registers the full stage job set for a round.
// It is the single scheduling authority; every code path that needs a
// round's jobs registered goes through ScheduleRound.
type RoundScheduler struct {
	registry           JobRegistry
	enqueuer           Enqueuer
	includeMaintenance bool
	log                *logger.Logger
}

// NewRoundScheduler wires the round scheduler.
func NewRoundScheduler(registry JobRegistry, enqueuer Enqueuer, cfg config.MaintenanceConfig, log *logger.Logger) *RoundScheduler {
	return &RoundScheduler{
		registry:           registry,
		enqueuer:           enqueuer,
		includeMaintenance: cfg.IsMaintenanceEnabled(),
		log:                log,
	}
}

// ScheduleRound registers one stage job per stage at the fixed offsets from
// the round's launch instant. Calling it again, from any process, is a
// no-op for every stage already registered: the unique (round_id, stage)
// key decides, not the queue. A queue registration that fails after the
// database insert marks the job failed and returns the error so the caller
// can alert; it is never silently dropped.
func (s *RoundScheduler) ScheduleRound(ctx context.Context, round domain.Round) error {
	for _, stage := range domain.Stages(s.includeMaintenance) {
		fireAt := round.ScheduledAt.Add(stage.Offset())

		job, created, err := s.registry.Register(ctx, round.ID, stage, fireAt)
		if err != nil {
			return fmt.Errorf("register %s for round %s: %w", stage, round.ID, err)
		}
		if !created && job.Status != jobs.StatusPending {
			// Already registered and handed to the queue, or settled.
			continue
		}

		payload := StageDuePayload{RoundID: round.ID.String(), Stage: string(stage)}
		if err := s.enqueuer.EnqueueStageDue(ctx, payload, fireAt); err != nil {
			if markErr := s.registry.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
				s.log.DatabaseError("mark stage job failed", markErr)
			}
			return fmt.Errorf("enqueue %s for round %s: %w", stage, round.ID, err)
		}
		if err := s.registry.MarkEnqueued(ctx, job.ID); err != nil {
			s.log.DatabaseError("mark stage job enqueued", err)
		}
	}
	return nil
}

// RequeueJob re-enqueues a registered job without touching its database
// row. Used by the startup reconciler for jobs whose queue entry was lost.
func (s *RoundScheduler) RequeueJob(ctx context.Context, job jobs.Job) error {
	payload := StageDuePayload{RoundID: job.RoundID.String(), Stage: string(job.Stage)}
	return s.enqueuer.EnqueueStageDue(ctx, payload, job.FireAt)
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
