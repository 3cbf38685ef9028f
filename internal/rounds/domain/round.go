// Package domain holds the campaign round model: the lifecycle state enum,
// the fixed stage sequence, and the transition table driving the orchestrator.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a round.
type State string

const (
	StateScheduled State = "scheduled"
	StateReady     State = "ready"
	StateLaunching State = "launching"
	StateSent      State = "sent"
	StateCompleted State = "completed"

	// Side states. Blocked halts automatic advancement pending remediation;
	// cancelled is terminal and reachable from any non-terminal state.
	StateBlocked   State = "blocked"
	StateCancelled State = "cancelled"
)

var knownStates = map[State]struct{}{
	StateScheduled: {},
	StateReady:     {},
	StateLaunching: {},
	StateSent:      {},
	StateCompleted: {},
	StateBlocked:   {},
	StateCancelled: {},
}

// IsKnownState reports whether a persisted value is a valid round state.
func IsKnownState(s string) bool {
	_, ok := knownStates[State(s)]
	return ok
}

// stateRank orders the forward states for monotonicity checks. Blocked and
// cancelled are overrides, not part of the forward order.
var stateRank = map[State]int{
	StateScheduled: 0,
	StateReady:     1,
	StateLaunching: 2,
	StateSent:      3,
	StateCompleted: 4,
}

// IsForwardTransition reports whether moving from one forward state to
// another never goes backwards. Transitions into blocked or cancelled are
// always allowed from a non-terminal state.
func IsForwardTransition(from, to State) bool {
	if to == StateCancelled || to == StateBlocked {
		return from != StateCancelled
	}
	fromRank, okFrom := stateRank[from]
	toRank, okTo := stateRank[to]
	if !okFrom || !okTo {
		return false
	}
	return toRank >= fromRank
}

// IsTerminal reports whether no further stage may ever run for this state.
func (s State) IsTerminal() bool {
	return s == StateCancelled
}

// Stage is one named step in a round's fixed lifecycle sequence.
type Stage string

const (
	StagePreLaunch     Stage = "pre_launch"
	StagePreFlight     Stage = "pre_flight"
	StageLaunchWarning Stage = "launch_warning"
	StageLaunch        Stage = "launch"
	StageWrapUp        Stage = "wrap_up"
	StageMaintenance   Stage = "maintenance"
)

// stageOffsets are the fixed fire-time offsets relative to the round's
// launch instant.
var stageOffsets = map[Stage]time.Duration{
	StagePreLaunch:     -48 * time.Hour,
	StagePreFlight:     -1 * time.Hour,
	StageLaunchWarning: -15 * time.Minute,
	StageLaunch:        0,
	StageWrapUp:        2 * time.Hour,
	StageMaintenance:   24 * time.Hour,
}

// Offset returns the stage's fire-time offset from the launch instant.
func (st Stage) Offset() time.Duration {
	return stageOffsets[st]
}

// Stages returns the stage sequence in firing order. The maintenance stage
// is feature-flagged and included only when requested.
func Stages(includeMaintenance bool) []Stage {
	s := []Stage{StagePreLaunch, StagePreFlight, StageLaunchWarning, StageLaunch, StageWrapUp}
	if includeMaintenance {
		s = append(s, StageMaintenance)
	}
	return s
}

// IsKnownStage reports whether a persisted value is a valid stage name.
func IsKnownStage(s string) bool {
	_, ok := stageOffsets[Stage(s)]
	return ok
}

// Transition describes what a stage job is allowed to do when it fires.
type Transition struct {
	// Expected is the state the round must be in for the job to run.
	// A job firing against any other state is discarded, never retried.
	Expected State
	// OnSuccess is the state persisted after the stage action succeeds.
	OnSuccess State
}

// Transitions is the lifecycle transition table, keyed by stage.
var Transitions = map[Stage]Transition{
	StagePreLaunch:     {Expected: StateScheduled, OnSuccess: StateScheduled},
	StagePreFlight:     {Expected: StateScheduled, OnSuccess: StateReady},
	StageLaunchWarning: {Expected: StateReady, OnSuccess: StateReady},
	StageLaunch:        {Expected: StateReady, OnSuccess: StateSent},
	StageWrapUp:        {Expected: StateSent, OnSuccess: StateCompleted},
	StageMaintenance:   {Expected: StateCompleted, OnSuccess: StateCompleted},
}

// NextStage returns the stage that follows st in firing order, or false
// when st is the last one.
func NextStage(st Stage, includeMaintenance bool) (Stage, bool) {
	seq := Stages(includeMaintenance)
	for i, s := range seq {
		if s == st && i+1 < len(seq) {
			return seq[i+1], true
		}
	}
	return "", false
}

// NotificationState tracks the chat notification outcome for one stage.
type NotificationState string

const (
	NotificationPending NotificationState = "pending"
	NotificationSent    NotificationState = "sent"
	NotificationFailed  NotificationState = "failed"
)

// Metrics are the delivery metrics pulled from the provider at wrap-up.
type Metrics struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Bounced   int `json:"bounced"`
}

// Round is one execution of one campaign send to one list partition.
// It is mutated only by the lifecycle orchestrator and the maintenance
// orchestrator; it is never deleted, only transitioned to cancelled.
type Round struct {
	ID                 uuid.UUID
	CampaignName       string
	RoundNumber        int
	ScheduledAt        time.Time
	ListID             string
	RecipientCount     int
	State              State
	NotificationStatus map[Stage]NotificationState
	ExternalCampaignID *string
	Metrics            *Metrics
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanReschedule reports whether scheduled_at may still be changed.
func (r Round) CanReschedule() bool {
	return r.State == StateScheduled || r.State == StateReady
}

// CanCancel reports whether the round may be cancelled.
func (r Round) CanCancel() bool {
	return !r.State.IsTerminal()
}
