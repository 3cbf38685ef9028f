package scheduler

import (
	"context"
	"fmt"

	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// StageHandler is the lifecycle orchestrator's entry point.
type StageHandler interface {
	HandleStageDue(ctx context.Context, roundID uuid.UUID, stage domain.Stage, attempt int) error
}

// Worker consumes stage-due tasks and hands them to the lifecycle
// orchestrator.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler StageHandler
	log     *logger.Logger
}

// NewWorker creates the asynq consumer.
func NewWorker(cfg config.SchedulerConfig, handler StageHandler, log *logger.Logger) (*Worker, error) {
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

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		handler: handler,
		log:     log,
	}

	mux.HandleFunc(TaskStageDue, w.handleStageDue)

	return w, nil
}

func (w *Worker) handleStageDue(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseStageDuePayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	roundID, err := uuid.Parse(payload.RoundID)
	if err != nil {
		return fmt.Errorf("round id %q: %v: %w", payload.RoundID, err, asynq.SkipRetry)
	}

	if !domain.IsKnownStage(payload.Stage) {
		return fmt.Errorf("unknown stage %q: %w", payload.Stage, asynq.SkipRetry)
	}

	attempt, _ := asynq.GetRetryCount(ctx)
	return w.handler.HandleStageDue(ctx, roundID, domain.Stage(payload.Stage), attempt)
}

// Run serves the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
