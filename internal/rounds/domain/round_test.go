package domain

import (
	"testing"
	"time"
)

func TestStageOffsets(t *testing.T) {
	launch := time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		stage Stage
		want  time.Time
	}{
		{StagePreLaunch, time.Date(2025, 10, 13, 9, 0, 0, 0, time.UTC)},
		{StagePreFlight, time.Date(2025, 10, 15, 8, 0, 0, 0, time.UTC)},
		{StageLaunchWarning, time.Date(2025, 10, 15, 8, 45, 0, 0, time.UTC)},
		{StageLaunch, launch},
		{StageWrapUp, time.Date(2025, 10, 15, 11, 0, 0, 0, time.UTC)},
		{StageMaintenance, time.Date(2025, 10, 16, 9, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		if got := launch.Add(tc.stage.Offset()); !got.Equal(tc.want) {
			t.Errorf("%s fires at %v, want %v", tc.stage, got, tc.want)
		}
	}
}

func TestStagesOrderAndMaintenanceFlag(t *testing.T) {
	withoutMaintenance := Stages(false)
	if len(withoutMaintenance) != 5 {
		t.Fatalf("expected 5 stages without maintenance, got %d", len(withoutMaintenance))
	}
	withMaintenance := Stages(true)
	if len(withMaintenance) != 6 || withMaintenance[5] != StageMaintenance {
		t.Fatalf("expected maintenance as 6th stage, got %v", withMaintenance)
	}

	// Fire order must match offset order.
	for i := 1; i < len(withMaintenance); i++ {
		if withMaintenance[i].Offset() <= withMaintenance[i-1].Offset() {
			t.Errorf("stage %s does not fire after %s", withMaintenance[i], withMaintenance[i-1])
		}
	}
}

func TestTransitionsCoverEveryStage(t *testing.T) {
	for _, st := range Stages(true) {
		tr, ok := Transitions[st]
		if !ok {
			t.Fatalf("stage %s has no transition", st)
		}
		if !IsForwardTransition(tr.Expected, tr.OnSuccess) {
			t.Errorf("stage %s transition %s -> %s goes backwards", st, tr.Expected, tr.OnSuccess)
		}
	}
}

func TestIsForwardTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateScheduled, StateReady, true},
		{StateReady, StateReady, true},
		{StateReady, StateScheduled, false},
		{StateSent, StateCompleted, true},
		{StateCompleted, StateSent, false},
		{StateScheduled, StateBlocked, true},
		{StateSent, StateCancelled, true},
		{StateCancelled, StateBlocked, false},
		{StateCancelled, StateCancelled, false},
	}

	for _, tc := range tests {
		if got := IsForwardTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("IsForwardTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNextStage(t *testing.T) {
	if next, ok := NextStage(StageLaunch, true); !ok || next != StageWrapUp {
		t.Errorf("NextStage(launch) = %s, %v", next, ok)
	}
	if next, ok := NextStage(StageWrapUp, true); !ok || next != StageMaintenance {
		t.Errorf("NextStage(wrap_up) with maintenance = %s, %v", next, ok)
	}
	if _, ok := NextStage(StageWrapUp, false); ok {
		t.Error("NextStage(wrap_up) without maintenance should be last")
	}
	if _, ok := NextStage(StageMaintenance, true); ok {
		t.Error("NextStage(maintenance) should be last")
	}
}

func TestRoundGuards(t *testing.T) {
	for _, tc := range []struct {
		state         State
		canReschedule bool
		canCancel     bool
	}{
		{StateScheduled, true, true},
		{StateReady, true, true},
		{StateLaunching, false, true},
		{StateSent, false, true},
		{StateCompleted, false, true},
		{StateBlocked, false, true},
		{StateCancelled, false, false},
	} {
		r := Round{State: tc.state}
		if got := r.CanReschedule(); got != tc.canReschedule {
			t.Errorf("CanReschedule in %s = %v, want %v", tc.state, got, tc.canReschedule)
		}
		if got := r.CanCancel(); got != tc.canCancel {
			t.Errorf("CanCancel in %s = %v, want %v", tc.state, got, tc.canCancel)
		}
	}
}
