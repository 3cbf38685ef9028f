// Package maintenance implements the post-launch list maintenance unit:
// bounce analysis, contact suppression, and rebalancing of the campaign's
// list partitions, with rollback of partially applied rebalances.
package maintenance

import (
	"fmt"
	"sort"

	"campaign_backend/internal/provider"
)

// SuppressionPlan classifies bounced contacts. Hard bounces are suppressed
// immediately; contacts whose soft-bounce count reached the threshold are
// flagged for monitoring but kept; the rest are left alone.
type SuppressionPlan struct {
	Suppress []string
	Flag     []string
}

// BuildSuppressionPlan classifies the round's bounce events. softThreshold
// is the soft-bounce count at which a contact gets flagged.
func BuildSuppressionPlan(bounces []provider.BounceEvent, softThreshold int) SuppressionPlan {
	var plan SuppressionPlan
	hard := make(map[string]struct{})
	softCounts := make(map[string]int)

	for _, b := range bounces {
		switch b.Type {
		case provider.BounceHard:
			if _, seen := hard[b.ContactID]; !seen {
				hard[b.ContactID] = struct{}{}
				plan.Suppress = append(plan.Suppress, b.ContactID)
			}
		case provider.BounceSoft:
			softCounts[b.ContactID]++
		}
	}

	for id, n := range softCounts {
		if _, suppressed := hard[id]; suppressed {
			continue
		}
		if n >= softThreshold {
			plan.Flag = append(plan.Flag, id)
		}
	}

	sort.Strings(plan.Suppress)
	sort.Strings(plan.Flag)
	return plan
}

// Move relocates one contact between two list partitions.
type Move struct {
	ContactID string
	FromList  string
	ToList    string
}

// Inverse returns the move that undoes m.
func (m Move) Inverse() Move {
	return Move{ContactID: m.ContactID, FromList: m.ToList, ToList: m.FromList}
}

// RebalancingPlan is the computed set of moves that equalizes the list
// partitions. Before and After hold the per-list sizes the plan starts
// from and must end at.
type RebalancingPlan struct {
	Moves  []Move
	Before map[string]int
	After  map[string]int
}

// BuildRebalancingPlan computes target sizes differing by at most one and
// the minimal moves to reach them. Within a surplus list the most recently
// added contacts move first, so long-standing members stay where they are.
func BuildRebalancingPlan(lists map[string][]provider.ListContact) RebalancingPlan {
	plan := RebalancingPlan{
		Before: make(map[string]int, len(lists)),
		After:  make(map[string]int, len(lists)),
	}

	ids := make([]string, 0, len(lists))
	total := 0
	for id, contacts := range lists {
		ids = append(ids, id)
		plan.Before[id] = len(contacts)
		total += len(contacts)
	}
	if len(ids) == 0 {
		return plan
	}
	sort.Strings(ids)

	// The remainder lists get one extra contact. Giving the extras to the
	// currently largest lists minimizes the number of moves.
	base, remainder := total/len(ids), total%len(ids)
	bySize := append([]string(nil), ids...)
	sort.SliceStable(bySize, func(i, j int) bool {
		return plan.Before[bySize[i]] > plan.Before[bySize[j]]
	})
	targets := make(map[string]int, len(ids))
	for i, id := range bySize {
		if i < remainder {
			targets[id] = base + 1
		} else {
			targets[id] = base
		}
	}
	for id, t := range targets {
		plan.After[id] = t
	}

	// Drain surpluses most-recently-added first into the deficits.
	type donor struct {
		id    string
		spare []provider.ListContact
	}
	var donors []donor
	for _, id := range ids {
		if surplus := plan.Before[id] - targets[id]; surplus > 0 {
			contacts := append([]provider.ListContact(nil), lists[id]...)
			sort.SliceStable(contacts, func(i, j int) bool {
				return contacts[i].AddedAt.After(contacts[j].AddedAt)
			})
			donors = append(donors, donor{id: id, spare: contacts[:surplus]})
		}
	}

	di := 0
	for _, id := range ids {
		need := targets[id] - plan.Before[id]
		for need > 0 && di < len(donors) {
			d := &donors[di]
			if len(d.spare) == 0 {
				di++
				continue
			}
			plan.Moves = append(plan.Moves, Move{
				ContactID: d.spare[0].ContactID,
				FromList:  d.id,
				ToList:    id,
			})
			d.spare = d.spare[1:]
			need--
		}
	}

	return plan
}

// Validate checks the plan before anything is applied: contact counts are
// conserved and every target size is within one of every other.
func (p RebalancingPlan) Validate() error {
	beforeTotal, afterTotal := 0, 0
	for _, n := range p.Before {
		beforeTotal += n
	}
	minSize, maxSize := -1, -1
	for _, n := range p.After {
		afterTotal += n
		if minSize == -1 || n < minSize {
			minSize = n
		}
		if n > maxSize {
			maxSize = n
		}
	}

	if beforeTotal != afterTotal {
		return fmt.Errorf("plan does not conserve contacts: before %d, after %d", beforeTotal, afterTotal)
	}
	if len(p.After) > 0 && maxSize-minSize > 1 {
		return fmt.Errorf("plan targets are not balanced: min %d, max %d", minSize, maxSize)
	}
	return nil
}
