// Package notify formats and delivers chat notifications for lifecycle
// stages, and raises operator alerts for blocking and reconciliation
// failures. Stage notifications are informational: they retry internally
// and record their outcome on the round, but never fail the pipeline.
package notify

import (
	"context"
	"time"

	"campaign_backend/internal/chat"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

// ChatSink is the consumer-driven interface over the chat client.
type ChatSink interface {
	PostMessage(ctx context.Context, channel, text string, blocks ...chat.Block) (string, error)
}

// StatusStore records per-stage notification outcomes on the round.
type StatusStore interface {
	SetNotificationStatus(ctx context.Context, id uuid.UUID, stage domain.Stage, state domain.NotificationState) error
}

// Dispatcher delivers stage notifications to the campaign channel.
type Dispatcher struct {
	sink     ChatSink
	store    StatusStore
	channel  string
	attempts int
	backoff  time.Duration
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher posting to the campaign channel.
func NewDispatcher(sink ChatSink, store StatusStore, cfg config.ChatConfig, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		sink:     sink,
		store:    store,
		channel:  cfg.GetChatCampaignChannel(),
		attempts: 3,
		backoff:  2 * time.Second,
		log:      log,
	}
}

// Notify posts the stage message for a round. Transport failures are
// retried with backoff; the final outcome is recorded in the round's
// notification status and never propagated to the caller.
func (d *Dispatcher) Notify(ctx context.Context, round domain.Round, stage domain.Stage, text string) {
	if d == nil || d.sink == nil {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		_, err := d.sink.PostMessage(ctx, d.channel, text)
		if err == nil {
			d.setStatus(ctx, round.ID, stage, domain.NotificationSent)
			return
		}
		lastErr = err

		if attempt < d.attempts {
			delay := time.Duration(attempt) * d.backoff
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = d.attempts
			case <-time.After(delay):
			}
		}
	}

	d.log.Warn("stage notification failed",
		"round_id", round.ID, "stage", string(stage), "error", lastErr)
	d.setStatus(ctx, round.ID, stage, domain.NotificationFailed)
}

func (d *Dispatcher) setStatus(ctx context.Context, id uuid.UUID, stage domain.Stage, state domain.NotificationState) {
	if d.store == nil {
		return
	}
	if err := d.store.SetNotificationStatus(ctx, id, stage, state); err != nil {
		d.log.Error("failed to record notification status",
			"round_id", id, "stage", string(stage), "error", err)
	}
}
