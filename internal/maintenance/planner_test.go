package maintenance

import (
	"fmt"
	"testing"
	"time"

	"campaign_backend/internal/provider"
)

func TestBuildSuppressionPlanClassifiesBounces(t *testing.T) {
	bounces := []provider.BounceEvent{
		{ContactID: "c-hard", Type: provider.BounceHard, Reason: "mailbox does not exist"},
		{ContactID: "c-hard", Type: provider.BounceHard, Reason: "mailbox does not exist"},
		{ContactID: "c-repeat", Type: provider.BounceSoft, Reason: "mailbox full"},
		{ContactID: "c-repeat", Type: provider.BounceSoft, Reason: "mailbox full"},
		{ContactID: "c-repeat", Type: provider.BounceSoft, Reason: "mailbox full"},
		{ContactID: "c-once", Type: provider.BounceSoft, Reason: "greylisted"},
		{ContactID: "c-both", Type: provider.BounceHard, Reason: "invalid domain"},
		{ContactID: "c-both", Type: provider.BounceSoft, Reason: "mailbox full"},
		{ContactID: "c-both", Type: provider.BounceSoft, Reason: "mailbox full"},
		{ContactID: "c-both", Type: provider.BounceSoft, Reason: "mailbox full"},
	}

	plan := BuildSuppressionPlan(bounces, 3)

	if want := []string{"c-both", "c-hard"}; !equalStrings(plan.Suppress, want) {
		t.Errorf("Suppress = %v, want %v", plan.Suppress, want)
	}
	// Already-suppressed contacts are not flagged on top.
	if want := []string{"c-repeat"}; !equalStrings(plan.Flag, want) {
		t.Errorf("Flag = %v, want %v", plan.Flag, want)
	}
}

func TestBuildSuppressionPlanBelowThresholdKeeps(t *testing.T) {
	bounces := []provider.BounceEvent{
		{ContactID: "c-1", Type: provider.BounceSoft},
		{ContactID: "c-1", Type: provider.BounceSoft},
	}

	plan := BuildSuppressionPlan(bounces, 3)

	if len(plan.Suppress) != 0 || len(plan.Flag) != 0 {
		t.Errorf("plan = %+v, want empty", plan)
	}
}

func TestBuildRebalancingPlanEqualizesWithinOne(t *testing.T) {
	// Post-suppression sizes after removing 58 contacts from a
	// [1000, 942, 1177] snapshot.
	lists := map[string][]provider.ListContact{
		"list-a": makeContacts("a", 990),
		"list-b": makeContacts("b", 920),
		"list-c": makeContacts("c", 1151),
	}

	plan := BuildRebalancingPlan(lists)

	if err := plan.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	// 3061 contacts over 3 lists: one list at 1021, two at 1020, and the
	// extra slot goes to the largest donor to minimize moves.
	if plan.After["list-c"] != 1021 {
		t.Errorf("After[list-c] = %d, want 1021", plan.After["list-c"])
	}
	if plan.After["list-a"] != 1020 || plan.After["list-b"] != 1020 {
		t.Errorf("After = %v, want list-a and list-b at 1020", plan.After)
	}
	if want := 130; len(plan.Moves) != want {
		t.Errorf("moves = %d, want %d", len(plan.Moves), want)
	}

	// Replay the moves over the sizes and check they land on the targets.
	sizes := map[string]int{"list-a": 990, "list-b": 920, "list-c": 1151}
	for _, m := range plan.Moves {
		sizes[m.FromList]--
		sizes[m.ToList]++
	}
	for id, want := range plan.After {
		if sizes[id] != want {
			t.Errorf("replayed size[%s] = %d, want %d", id, sizes[id], want)
		}
	}
}

func TestBuildRebalancingPlanMovesNewestFirst(t *testing.T) {
	lists := map[string][]provider.ListContact{
		"list-a": makeContacts("a", 6),
		"list-b": makeContacts("b", 2),
	}

	plan := BuildRebalancingPlan(lists)

	if len(plan.Moves) != 2 {
		t.Fatalf("moves = %d, want 2", len(plan.Moves))
	}
	// makeContacts assigns increasing AddedAt, so the highest indices are
	// the newest and must move first.
	if plan.Moves[0].ContactID != "a-5" || plan.Moves[1].ContactID != "a-4" {
		t.Errorf("moved %s, %s; want a-5, a-4", plan.Moves[0].ContactID, plan.Moves[1].ContactID)
	}
}

func TestBuildRebalancingPlanBalancedInputNeedsNoMoves(t *testing.T) {
	lists := map[string][]provider.ListContact{
		"list-a": makeContacts("a", 100),
		"list-b": makeContacts("b", 101),
		"list-c": makeContacts("c", 100),
	}

	plan := BuildRebalancingPlan(lists)

	if len(plan.Moves) != 0 {
		t.Errorf("moves = %v, want none", plan.Moves)
	}
}

func TestValidateRejectsUnconservedPlan(t *testing.T) {
	plan := RebalancingPlan{
		Before: map[string]int{"list-a": 10, "list-b": 10},
		After:  map[string]int{"list-a": 10, "list-b": 9},
	}
	if err := plan.Validate(); err == nil {
		t.Error("Validate() = nil, want conservation error")
	}
}

func TestValidateRejectsUnbalancedTargets(t *testing.T) {
	plan := RebalancingPlan{
		Before: map[string]int{"list-a": 12, "list-b": 8},
		After:  map[string]int{"list-a": 12, "list-b": 8},
	}
	if err := plan.Validate(); err == nil {
		t.Error("Validate() = nil, want balance error")
	}
}

func makeContacts(prefix string, n int) []provider.ListContact {
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]provider.ListContact, n)
	for i := range out {
		out[i] = provider.ListContact{
			ContactID: fmt.Sprintf("%s-%d", prefix, i),
			AddedAt:   base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
