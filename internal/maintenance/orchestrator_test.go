package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"campaign_backend/internal/events"
	"campaign_backend/internal/lifecycle"
	"campaign_backend/internal/provider"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeListProvider struct {
	mu      sync.Mutex
	lists   map[string][]provider.ListContact
	bounces []provider.BounceEvent

	addCalls     int
	failAddAt    int // fail the Nth AddContact, 0 = never
	removeCalls  int
	failRemoveAt int // fail the Nth RemoveContact, 0 = never
}

func (f *fakeListProvider) GetBounceEvents(_ context.Context, _ string) ([]provider.BounceEvent, error) {
	return f.bounces, nil
}

func (f *fakeListProvider) ListContacts(_ context.Context, listID string) ([]provider.ListContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.ListContact(nil), f.lists[listID]...), nil
}

func (f *fakeListProvider) AddContact(_ context.Context, listID, contactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.failAddAt > 0 && f.addCalls == f.failAddAt {
		return errors.New("503 unavailable")
	}
	f.lists[listID] = append(f.lists[listID], provider.ListContact{ContactID: contactID})
	return nil
}

func (f *fakeListProvider) RemoveContact(_ context.Context, listID, contactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls++
	if f.failRemoveAt > 0 && f.removeCalls == f.failRemoveAt {
		return errors.New("503 unavailable")
	}
	contacts := f.lists[listID]
	for i, c := range contacts {
		if c.ContactID == contactID {
			f.lists[listID] = append(contacts[:i], contacts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("contact %s not on list %s", contactID, listID)
}

func (f *fakeListProvider) size(listID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists[listID])
}

func (f *fakeListProvider) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, contacts := range f.lists {
		n += len(contacts)
	}
	return n
}

type fakePartitions struct {
	ids []string
}

func (f *fakePartitions) ListPartitionIDs(_ context.Context, _ string) ([]string, error) {
	return f.ids, nil
}

type fakeLogStore struct {
	logs    []Log
	partial bool
}

func (f *fakeLogStore) Create(_ context.Context, l Log) (Log, error) {
	l.ID = uuid.New()
	f.logs = append(f.logs, l)
	return l, nil
}

func (f *fakeLogStore) HasUnresolvedPartial(_ context.Context, _ uuid.UUID) (bool, error) {
	return f.partial, nil
}

type captureBus struct {
	published []events.Event
}

func (b *captureBus) Publish(_ context.Context, e events.Event) { b.published = append(b.published, e) }
func (b *captureBus) PublishSync(_ context.Context, e events.Event) error {
	b.published = append(b.published, e)
	return nil
}
func (b *captureBus) Subscribe(_ string, _ events.Handler) {}

type fakeMaintConfig struct{}

func (fakeMaintConfig) IsMaintenanceEnabled() bool  { return true }
func (fakeMaintConfig) GetPartitionCount() int      { return 3 }
func (fakeMaintConfig) GetSoftBounceThreshold() int { return 3 }

func maintRound() domain.Round {
	ext := "ext-42"
	return domain.Round{
		ID:                 uuid.New(),
		CampaignName:       "autumn-drive",
		RoundNumber:        3,
		State:              domain.StateCompleted,
		ExternalCampaignID: &ext,
	}
}

func newMaintFixture(prov *fakeListProvider, logs *fakeLogStore) (*Orchestrator, *captureBus) {
	bus := &captureBus{}
	partitionIDs := make([]string, 0, len(prov.lists))
	for id := range prov.lists {
		partitionIDs = append(partitionIDs, id)
	}
	orch := NewOrchestrator(prov, &fakePartitions{ids: partitionIDs}, logs, bus, fakeMaintConfig{}, logger.New("test"))
	return orch, bus
}

func TestRunSuppressesAndRebalances(t *testing.T) {
	prov := &fakeListProvider{
		lists: map[string][]provider.ListContact{
			"list-a": makeContacts("a", 100),
			"list-b": makeContacts("b", 94),
			"list-c": makeContacts("c", 118),
		},
		bounces: []provider.BounceEvent{
			{ContactID: "c-0", Type: provider.BounceHard},
			{ContactID: "c-1", Type: provider.BounceHard},
			{ContactID: "a-0", Type: provider.BounceHard},
			{ContactID: "b-5", Type: provider.BounceSoft},
		},
	}
	logs := &fakeLogStore{}
	orch, _ := newMaintFixture(prov, logs)

	before := prov.total()
	res := orch.Run(context.Background(), maintRound())

	if res.Outcome != lifecycle.OutcomeSuccess {
		t.Fatalf("outcome = %s, want success", res)
	}
	// Conservation: three hard bounces suppressed, nothing else lost.
	if got, want := prov.total(), before-3; got != want {
		t.Errorf("total contacts = %d, want %d", got, want)
	}
	// 309 contacts over three lists: sizes 103 within one of each other.
	for _, id := range []string{"list-a", "list-b", "list-c"} {
		if got := prov.size(id); got != 103 {
			t.Errorf("size[%s] = %d, want 103", id, got)
		}
	}

	if len(logs.logs) != 1 {
		t.Fatalf("logs written = %d, want 1", len(logs.logs))
	}
	entry := logs.logs[0]
	if entry.Outcome != OutcomeSuccess {
		t.Errorf("log outcome = %q, want success", entry.Outcome)
	}
	if entry.Suppressed != 3 {
		t.Errorf("log suppressed = %d, want 3", entry.Suppressed)
	}
	beforeSum, afterSum := 0, 0
	for _, n := range entry.BeforeState {
		beforeSum += n
	}
	for _, n := range entry.AfterState {
		afterSum += n
	}
	if afterSum != beforeSum-entry.Suppressed {
		t.Errorf("afterSum = %d, want beforeSum %d - suppressed %d", afterSum, beforeSum, entry.Suppressed)
	}
}

func TestRollbackRestoresExactSizes(t *testing.T) {
	prov := &fakeListProvider{
		lists: map[string][]provider.ListContact{
			"list-a": makeContacts("a", 10),
			"list-b": makeContacts("b", 2),
		},
		// Each move does one add, so the fourth move's add fails with
		// three moves fully applied.
		failAddAt: 4,
	}
	// No bounces: the plan moves four contacts from list-a to list-b and
	// fails after three.
	logs := &fakeLogStore{}
	orch, bus := newMaintFixture(prov, logs)

	res := orch.Run(context.Background(), maintRound())

	if res.Outcome != lifecycle.OutcomeBlocking {
		t.Fatalf("outcome = %s, want blocking", res)
	}
	if prov.size("list-a") != 10 || prov.size("list-b") != 2 {
		t.Errorf("sizes = [%d %d], want pre-rebalance [10 2]", prov.size("list-a"), prov.size("list-b"))
	}

	if len(logs.logs) != 1 || logs.logs[0].Outcome != OutcomeRolledBack {
		t.Fatalf("logs = %+v, want one rolledBack entry", logs.logs)
	}
	if len(bus.published) != 1 || bus.published[0].EventName() != "maintenance.rolled_back" {
		t.Errorf("events = %v, want [maintenance.rolled_back]", bus.published)
	}
	rb := bus.published[0].(events.MaintenanceRolledBack)
	if rb.MovesApplied != 3 {
		t.Errorf("MovesApplied = %d, want 3", rb.MovesApplied)
	}
}

func TestUnverifiableRollbackEscalates(t *testing.T) {
	prov := &fakeListProvider{
		lists: map[string][]provider.ListContact{
			"list-a": makeContacts("a", 10),
			"list-b": makeContacts("b", 2),
		},
		failAddAt:    4, // fourth move's add fails, three applied
		failRemoveAt: 4, // first rollback remove fails
	}
	logs := &fakeLogStore{}
	orch, bus := newMaintFixture(prov, logs)

	res := orch.Run(context.Background(), maintRound())

	if res.Outcome != lifecycle.OutcomeBlocking {
		t.Fatalf("outcome = %s, want blocking", res)
	}
	if !strings.Contains(res.Reason, "could not be verified") {
		t.Errorf("reason = %q, want unverified rollback named", res.Reason)
	}
	if len(logs.logs) != 1 || logs.logs[0].Outcome != OutcomePartial {
		t.Fatalf("logs = %+v, want one partial entry", logs.logs)
	}
	if len(bus.published) != 1 || bus.published[0].EventName() != "maintenance.reconciliation_failed" {
		t.Errorf("events = %v, want [maintenance.reconciliation_failed]", bus.published)
	}
}

func TestRunHaltsAfterUnresolvedPartial(t *testing.T) {
	prov := &fakeListProvider{
		lists: map[string][]provider.ListContact{"list-a": makeContacts("a", 10)},
	}
	logs := &fakeLogStore{partial: true}
	orch, _ := newMaintFixture(prov, logs)

	res := orch.Run(context.Background(), maintRound())

	if res.Outcome != lifecycle.OutcomeBlocking {
		t.Fatalf("outcome = %s, want blocking", res)
	}
	if !strings.Contains(res.Reason, "manual reconciliation") {
		t.Errorf("reason = %q, want manual reconciliation named", res.Reason)
	}
	if prov.addCalls != 0 && prov.removeCalls != 0 {
		t.Errorf("provider was touched: adds %d, removes %d", prov.addCalls, prov.removeCalls)
	}
}

func TestRunWithoutExternalIDBlocks(t *testing.T) {
	prov := &fakeListProvider{lists: map[string][]provider.ListContact{}}
	orch, _ := newMaintFixture(prov, &fakeLogStore{})

	round := maintRound()
	round.ExternalCampaignID = nil

	if res := orch.Run(context.Background(), round); res.Outcome != lifecycle.OutcomeBlocking {
		t.Errorf("outcome = %s, want blocking", res)
	}
}
