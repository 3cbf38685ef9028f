package maintenance

import (
	"context"
	"fmt"
	"sync"

	"campaign_backend/internal/events"
	"campaign_backend/internal/lifecycle"
	"campaign_backend/internal/provider"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ProviderGateway is the slice of the provider client maintenance uses.
type ProviderGateway interface {
	GetBounceEvents(ctx context.Context, externalID string) ([]provider.BounceEvent, error)
	ListContacts(ctx context.Context, listID string) ([]provider.ListContact, error)
	AddContact(ctx context.Context, listID, contactID string) error
	RemoveContact(ctx context.Context, listID, contactID string) error
}

// PartitionSource resolves a campaign's list partitions.
type PartitionSource interface {
	ListPartitionIDs(ctx context.Context, campaignName string) ([]string, error)
}

// LogStore persists maintenance run records.
type LogStore interface {
	Create(ctx context.Context, l Log) (Log, error)
	HasUnresolvedPartial(ctx context.Context, roundID uuid.UUID) (bool, error)
}

// Orchestrator runs the maintenance unit for one completed round: analyze
// bounces, suppress, rebalance, and roll back a partially applied rebalance.
type Orchestrator struct {
	provider       ProviderGateway
	partitions     PartitionSource
	logs           LogStore
	bus            events.Bus
	softThreshold  int
	partitionCount int
	log            *logger.Logger
}

// NewOrchestrator wires the maintenance orchestrator.
func NewOrchestrator(p ProviderGateway, partitions PartitionSource, logs LogStore, bus events.Bus, cfg config.MaintenanceConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		provider:       p,
		partitions:     partitions,
		logs:           logs,
		bus:            bus,
		softThreshold:  cfg.GetSoftBounceThreshold(),
		partitionCount: cfg.GetPartitionCount(),
		log:            log,
	}
}

// Run executes the maintenance unit. Transient results make the lifecycle
// retry the whole unit; suppression removals are idempotent so a retry is
// safe up to the point moves start being applied, after which failure is
// settled here via rollback.
func (o *Orchestrator) Run(ctx context.Context, round domain.Round) lifecycle.StageResult {
	if round.ExternalCampaignID == nil {
		return lifecycle.Blocking("round has no external campaign id to analyze bounces for")
	}

	halted, err := o.logs.HasUnresolvedPartial(ctx, round.ID)
	if err != nil {
		return lifecycle.Transient("could not read maintenance history", err)
	}
	if halted {
		return lifecycle.Blocking("previous rollback could not be verified; manual reconciliation required before maintenance may run again")
	}

	partitionIDs, err := o.partitions.ListPartitionIDs(ctx, round.CampaignName)
	if err != nil {
		return lifecycle.Transient("could not resolve campaign list partitions", err)
	}
	if len(partitionIDs) == 0 {
		return lifecycle.Blocking(fmt.Sprintf("campaign %s has no list partitions", round.CampaignName))
	}
	if o.partitionCount > 0 && len(partitionIDs) != o.partitionCount {
		o.log.Warn("partition set differs from configured count",
			"campaign", round.CampaignName, "found", len(partitionIDs), "configured", o.partitionCount)
	}

	lists, err := o.snapshot(ctx, partitionIDs)
	if err != nil {
		return lifecycle.Transient("could not snapshot list partitions", err)
	}
	before := sizes(lists)

	bounces, err := o.provider.GetBounceEvents(ctx, *round.ExternalCampaignID)
	if err != nil {
		return lifecycle.Transient("could not pull bounce events", err)
	}
	plan := BuildSuppressionPlan(bounces, o.softThreshold)
	if len(plan.Flag) > 0 {
		o.log.Info("contacts flagged for soft-bounce monitoring",
			"round_id", round.ID, "count", len(plan.Flag))
	}

	suppressed, lists, err := o.applySuppression(ctx, lists, plan)
	if err != nil {
		// Removals are idempotent; the whole unit retries cleanly.
		return lifecycle.Transient("could not apply suppression", err)
	}

	rplan := BuildRebalancingPlan(lists)
	if err := rplan.Validate(); err != nil {
		return lifecycle.Blocking(fmt.Sprintf("rebalancing plan rejected: %v", err))
	}

	applied, moveErr := o.applyMoves(ctx, rplan.Moves)
	if moveErr != nil {
		return o.rollback(ctx, round, before, suppressed, rplan, applied, moveErr)
	}

	o.writeLog(ctx, Log{
		RoundID:       round.ID,
		BeforeState:   before,
		Suppressed:    len(suppressed),
		SuppressedIDs: suppressed,
		AfterState:    rplan.After,
		Outcome:       OutcomeSuccess,
	})
	o.log.Info("maintenance completed",
		"round_id", round.ID, "suppressed", len(suppressed), "moves", len(rplan.Moves))
	return lifecycle.Success()
}

// snapshot reads every partition's membership in parallel.
func (o *Orchestrator) snapshot(ctx context.Context, partitionIDs []string) (map[string][]provider.ListContact, error) {
	lists := make(map[string][]provider.ListContact, len(partitionIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range partitionIDs {
		g.Go(func() error {
			contacts, err := o.provider.ListContacts(gctx, id)
			if err != nil {
				return fmt.Errorf("list %s: %w", id, err)
			}
			mu.Lock()
			lists[id] = contacts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return lists, nil
}

// applySuppression removes the plan's contacts from whichever partition
// holds them and returns the ids actually removed plus the updated
// in-memory lists.
func (o *Orchestrator) applySuppression(ctx context.Context, lists map[string][]provider.ListContact, plan SuppressionPlan) ([]string, map[string][]provider.ListContact, error) {
	toSuppress := make(map[string]struct{}, len(plan.Suppress))
	for _, id := range plan.Suppress {
		toSuppress[id] = struct{}{}
	}

	var removed []string
	for listID, contacts := range lists {
		kept := contacts[:0]
		for _, c := range contacts {
			if _, hit := toSuppress[c.ContactID]; !hit {
				kept = append(kept, c)
				continue
			}
			if err := o.provider.RemoveContact(ctx, listID, c.ContactID); err != nil {
				return nil, nil, fmt.Errorf("remove %s from %s: %w", c.ContactID, listID, err)
			}
			removed = append(removed, c.ContactID)
		}
		lists[listID] = kept
	}
	return removed, lists, nil
}

// appliedMove tracks how far one move got. Added means the contact is on
// the destination list; removed means it is off the source list.
type appliedMove struct {
	move    Move
	removed bool
}

// applyMoves executes the plan sequentially. Add-then-remove ordering means
// a mid-move failure leaves a transient duplicate, never a lost contact.
func (o *Orchestrator) applyMoves(ctx context.Context, moves []Move) ([]appliedMove, error) {
	var applied []appliedMove
	for _, m := range moves {
		if err := o.provider.AddContact(ctx, m.ToList, m.ContactID); err != nil {
			return applied, fmt.Errorf("add %s to %s: %w", m.ContactID, m.ToList, err)
		}
		if err := o.provider.RemoveContact(ctx, m.FromList, m.ContactID); err != nil {
			applied = append(applied, appliedMove{move: m, removed: false})
			return applied, fmt.Errorf("remove %s from %s: %w", m.ContactID, m.FromList, err)
		}
		applied = append(applied, appliedMove{move: m, removed: true})
	}
	return applied, nil
}

// rollback replays the inverse of every applied move in reverse order,
// verifies every partition is back at its pre-rebalance size, and writes
// the maintenance log. An unverifiable rollback is escalated; the lists
// must never be silently left in an unknown intermediate state.
func (o *Orchestrator) rollback(ctx context.Context, round domain.Round, before map[string]int, suppressed []string, rplan RebalancingPlan, applied []appliedMove, cause error) lifecycle.StageResult {
	o.log.Error("rebalance failed partway, rolling back",
		"round_id", round.ID, "moves_applied", len(applied), "error", cause)

	var rollbackErr error
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		if a.removed {
			inv := a.move.Inverse()
			if err := o.provider.AddContact(ctx, inv.ToList, inv.ContactID); err != nil {
				rollbackErr = fmt.Errorf("restore %s to %s: %w", inv.ContactID, inv.ToList, err)
				break
			}
			if err := o.provider.RemoveContact(ctx, inv.FromList, inv.ContactID); err != nil {
				rollbackErr = fmt.Errorf("remove %s from %s: %w", inv.ContactID, inv.FromList, err)
				break
			}
			continue
		}
		// The contact was duplicated onto the destination but never left
		// the source; dropping the copy restores the original state.
		if err := o.provider.RemoveContact(ctx, a.move.ToList, a.move.ContactID); err != nil {
			rollbackErr = fmt.Errorf("drop duplicate %s from %s: %w", a.move.ContactID, a.move.ToList, err)
			break
		}
	}

	restored, verifyErr := o.verifyRestored(ctx, rplan.Before)
	if rollbackErr != nil || verifyErr != nil || !restored {
		reason := fmt.Sprintf("rollback after %d of %d moves could not be verified", len(applied), len(rplan.Moves))
		if rollbackErr != nil {
			reason = fmt.Sprintf("%s: %v", reason, rollbackErr)
		} else if verifyErr != nil {
			reason = fmt.Sprintf("%s: %v", reason, verifyErr)
		}

		o.writeLog(ctx, Log{
			RoundID:       round.ID,
			BeforeState:   before,
			Suppressed:    len(suppressed),
			SuppressedIDs: suppressed,
			AfterState:    nil,
			Outcome:       OutcomePartial,
		})
		o.publish(ctx, events.MaintenanceReconciliationFailed{
			BaseEvent:    events.NewBaseEvent(),
			RoundID:      round.ID,
			CampaignName: round.CampaignName,
			Reason:       reason,
		})
		return lifecycle.Blocking(reason)
	}

	reason := fmt.Sprintf("rebalance failed after %d of %d moves: %v", len(applied), len(rplan.Moves), cause)
	o.writeLog(ctx, Log{
		RoundID:       round.ID,
		BeforeState:   before,
		Suppressed:    len(suppressed),
		SuppressedIDs: suppressed,
		AfterState:    rplan.Before,
		Outcome:       OutcomeRolledBack,
	})
	o.publish(ctx, events.MaintenanceRolledBack{
		BaseEvent:    events.NewBaseEvent(),
		RoundID:      round.ID,
		CampaignName: round.CampaignName,
		MovesApplied: len(applied),
		Reason:       reason,
	})
	return lifecycle.Blocking(reason)
}

// verifyRestored re-reads every partition and compares its size to the
// pre-rebalance snapshot.
func (o *Orchestrator) verifyRestored(ctx context.Context, want map[string]int) (bool, error) {
	for listID, wantSize := range want {
		contacts, err := o.provider.ListContacts(ctx, listID)
		if err != nil {
			return false, fmt.Errorf("verify list %s: %w", listID, err)
		}
		if len(contacts) != wantSize {
			o.log.Error("rollback verification mismatch",
				"list_id", listID, "want", wantSize, "got", len(contacts))
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) writeLog(ctx context.Context, l Log) {
	if _, err := o.logs.Create(ctx, l); err != nil {
		o.log.DatabaseError("write maintenance log", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, e events.Event) {
	if o.bus != nil {
		o.bus.Publish(ctx, e)
	}
}

func sizes(lists map[string][]provider.ListContact) map[string]int {
	out := make(map[string]int, len(lists))
	for id, contacts := range lists {
		out[id] = len(contacts)
	}
	return out
}
