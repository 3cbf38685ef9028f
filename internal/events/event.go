// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/events"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Lifecycle Domain Events
// =============================================================================

// RoundBlocked is published when a stage hits a blocking failure and the
// round stops advancing pending remediation.
type RoundBlocked struct {
	BaseEvent
	RoundID      uuid.UUID    `json:"roundId"`
	CampaignName string       `json:"campaignName"`
	Stage        domain.Stage `json:"stage"`
	Reason       string       `json:"reason"`
}

func (e RoundBlocked) EventName() string { return "lifecycle.round.blocked" }

// LaunchOutcomeUnknown is published when the provider acknowledged a send
// trigger but the outcome could not be confirmed. It always requires manual
// verification against the provider's own record.
type LaunchOutcomeUnknown struct {
	BaseEvent
	RoundID      uuid.UUID `json:"roundId"`
	CampaignName string    `json:"campaignName"`
	Reason       string    `json:"reason"`
}

func (e LaunchOutcomeUnknown) EventName() string { return "lifecycle.launch.outcome_unknown" }

// RoundCancelled is published after an operator cancels a round.
type RoundCancelled struct {
	BaseEvent
	RoundID       uuid.UUID `json:"roundId"`
	CampaignName  string    `json:"campaignName"`
	JobsCancelled int       `json:"jobsCancelled"`
}

func (e RoundCancelled) EventName() string { return "lifecycle.round.cancelled" }

// MetricsUnavailable is published when wrap-up exhausted its retries and the
// round was completed without delivery metrics.
type MetricsUnavailable struct {
	BaseEvent
	RoundID      uuid.UUID `json:"roundId"`
	CampaignName string    `json:"campaignName"`
	Reason       string    `json:"reason"`
}

func (e MetricsUnavailable) EventName() string { return "lifecycle.metrics.unavailable" }

// =============================================================================
// Maintenance Domain Events
// =============================================================================

// MaintenanceRolledBack is published when a partial rebalance was detected
// and every partition was restored to its pre-maintenance size.
type MaintenanceRolledBack struct {
	BaseEvent
	RoundID      uuid.UUID `json:"roundId"`
	CampaignName string    `json:"campaignName"`
	MovesApplied int       `json:"movesApplied"`
	Reason       string    `json:"reason"`
}

func (e MaintenanceRolledBack) EventName() string { return "maintenance.rolled_back" }

// MaintenanceReconciliationFailed is published when a rollback could not be
// verified and the lists are in an unknown state. Maintenance halts for the
// round until an operator reconciles manually.
type MaintenanceReconciliationFailed struct {
	BaseEvent
	RoundID      uuid.UUID `json:"roundId"`
	CampaignName string    `json:"campaignName"`
	Reason       string    `json:"reason"`
}

func (e MaintenanceReconciliationFailed) EventName() string {
	return "maintenance.reconciliation_failed"
}

// =============================================================================
// Scheduling Domain Events
// =============================================================================

// RoundJobLost is published when the reconciler finds a past-due round with
// no live stage job, indicating a lost scheduling registration.
type RoundJobLost struct {
	BaseEvent
	RoundID      uuid.UUID `json:"roundId"`
	CampaignName string    `json:"campaignName"`
	State        string    `json:"state"`
}

func (e RoundJobLost) EventName() string { return "scheduling.round.job_lost" }
