// Package lifecycle drives a round through its stage sequence. Stage jobs
// fire here; the orchestrator validates the round's state against the
// transition table, runs the stage action, and persists the outcome with a
// compare-and-swap so concurrent or duplicate firings cannot advance a
// round twice.
package lifecycle

import "fmt"

// Outcome classifies a stage action's result. Actions return a tagged
// result instead of a bare error; only the orchestrator decides between
// retry, block, and escalation.
type Outcome string

const (
	// OutcomeSuccess advances the round per the transition table.
	OutcomeSuccess Outcome = "success"

	// OutcomeTransient is a failure worth retrying with backoff, such as
	// a provider timeout. The round's state is unchanged.
	OutcomeTransient Outcome = "transient"

	// OutcomeBlocking is a failed precondition. The round stops advancing
	// until an operator remediates and retriggers the stage.
	OutcomeBlocking Outcome = "blocking"

	// OutcomeAmbiguous means a non-idempotent operation may or may not
	// have taken effect. Never retried; always escalated for manual
	// verification against the provider's own record.
	OutcomeAmbiguous Outcome = "ambiguous"
)

// StageResult is the tagged outcome of one stage action.
type StageResult struct {
	Outcome Outcome
	// Reason is the operator-facing explanation for non-success outcomes,
	// naming the precise check or operation that failed.
	Reason string
	// Err is the underlying cause, if any.
	Err error
}

func (r StageResult) String() string {
	if r.Reason == "" {
		return string(r.Outcome)
	}
	return fmt.Sprintf("%s: %s", r.Outcome, r.Reason)
}

// Success returns a successful result.
func Success() StageResult {
	return StageResult{Outcome: OutcomeSuccess}
}

// Transient tags a retryable failure.
func Transient(reason string, err error) StageResult {
	return StageResult{Outcome: OutcomeTransient, Reason: reason, Err: err}
}

// Blocking tags a failed precondition.
func Blocking(reason string) StageResult {
	return StageResult{Outcome: OutcomeBlocking, Reason: reason}
}

// Ambiguous tags an unknowable non-idempotent outcome.
func Ambiguous(reason string, err error) StageResult {
	return StageResult{Outcome: OutcomeAmbiguous, Reason: reason, Err: err}
}
