package notify

import (
	"context"
	"fmt"

	"campaign_backend/internal/events"
	"campaign_backend/platform/logger"
)

// Module wires domain events to operator alerts. Other modules publish
// events; this module decides which of them an operator must see.
type Module struct {
	alerter *Alerter
	log     *logger.Logger
}

// NewModule creates the notification module.
func NewModule(alerter *Alerter, log *logger.Logger) *Module {
	return &Module{alerter: alerter, log: log}
}

// RegisterHandlers subscribes the module to the domain events it alerts on.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.RoundBlocked{}.EventName(), events.HandlerFunc(m.handleRoundBlocked))
	bus.Subscribe(events.LaunchOutcomeUnknown{}.EventName(), events.HandlerFunc(m.handleLaunchOutcomeUnknown))
	bus.Subscribe(events.RoundCancelled{}.EventName(), events.HandlerFunc(m.handleRoundCancelled))
	bus.Subscribe(events.MetricsUnavailable{}.EventName(), events.HandlerFunc(m.handleMetricsUnavailable))
	bus.Subscribe(events.MaintenanceRolledBack{}.EventName(), events.HandlerFunc(m.handleMaintenanceRolledBack))
	bus.Subscribe(events.MaintenanceReconciliationFailed{}.EventName(), events.HandlerFunc(m.handleReconciliationFailed))
	bus.Subscribe(events.RoundJobLost{}.EventName(), events.HandlerFunc(m.handleRoundJobLost))
}

func (m *Module) handleRoundBlocked(ctx context.Context, event events.Event) error {
	e, ok := event.(events.RoundBlocked)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Round blocked: %s", e.CampaignName),
		fmt.Sprintf("Round %s stopped at stage %s: %s. The round will not advance until an operator resumes it.",
			e.RoundID, e.Stage, e.Reason))
	return nil
}

func (m *Module) handleLaunchOutcomeUnknown(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LaunchOutcomeUnknown)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Launch outcome unknown: %s", e.CampaignName),
		fmt.Sprintf("Round %s: the provider accepted the send trigger but the result could not be confirmed (%s). Verify against the provider dashboard before any retry.",
			e.RoundID, e.Reason))
	return nil
}

func (m *Module) handleRoundCancelled(ctx context.Context, event events.Event) error {
	e, ok := event.(events.RoundCancelled)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Round cancelled: %s", e.CampaignName),
		fmt.Sprintf("Round %s was cancelled; %d pending stage jobs were withdrawn.",
			e.RoundID, e.JobsCancelled))
	return nil
}

func (m *Module) handleMetricsUnavailable(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MetricsUnavailable)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Delivery metrics unavailable: %s", e.CampaignName),
		fmt.Sprintf("Round %s completed without delivery metrics: %s", e.RoundID, e.Reason))
	return nil
}

func (m *Module) handleMaintenanceRolledBack(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MaintenanceRolledBack)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Maintenance rolled back: %s", e.CampaignName),
		fmt.Sprintf("Round %s: rebalancing failed after %d moves and was rolled back (%s). List sizes were restored and verified.",
			e.RoundID, e.MovesApplied, e.Reason))
	return nil
}

func (m *Module) handleReconciliationFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MaintenanceReconciliationFailed)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("MANUAL RECONCILIATION REQUIRED: %s", e.CampaignName),
		fmt.Sprintf("Round %s: rollback could not be verified and the recipient lists are in an unknown state: %s",
			e.RoundID, e.Reason))
	return nil
}

func (m *Module) handleRoundJobLost(ctx context.Context, event events.Event) error {
	e, ok := event.(events.RoundJobLost)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	m.alerter.Alert(ctx,
		fmt.Sprintf("Stage job lost: %s", e.CampaignName),
		fmt.Sprintf("Round %s is past due in state %s with no live stage job, and startup reconciliation did not produce one. Inspect the round and trigger the next stage manually.",
			e.RoundID, e.State))
	return nil
}
