package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"campaign_backend/internal/chat"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeSink struct {
	failures int
	calls    int
	channels []string
	texts    []string
}

func (f *fakeSink) PostMessage(_ context.Context, channel, text string, _ ...chat.Block) (string, error) {
	f.calls++
	f.channels = append(f.channels, channel)
	f.texts = append(f.texts, text)
	if f.calls <= f.failures {
		return "", errors.New("chat unavailable")
	}
	return "msg-1", nil
}

type fakeStatusStore struct {
	stages []domain.Stage
	states []domain.NotificationState
}

func (f *fakeStatusStore) SetNotificationStatus(_ context.Context, _ uuid.UUID, stage domain.Stage, state domain.NotificationState) error {
	f.stages = append(f.stages, stage)
	f.states = append(f.states, state)
	return nil
}

type fakeChatConfig struct {
	campaignChannel string
	alertChannel    string
}

func (c fakeChatConfig) GetChatBaseURL() string         { return "https://chat.example.com" }
func (c fakeChatConfig) GetChatToken() string           { return "token" }
func (c fakeChatConfig) GetChatCampaignChannel() string { return c.campaignChannel }
func (c fakeChatConfig) GetChatAlertChannel() string    { return c.alertChannel }

func testRound() domain.Round {
	return domain.Round{
		ID:             uuid.New(),
		CampaignName:   "autumn-drive",
		RoundNumber:    2,
		ScheduledAt:    time.Date(2025, 10, 15, 9, 0, 0, 0, time.UTC),
		ListID:         "list-b",
		RecipientCount: 1000,
		State:          domain.StateScheduled,
	}
}

func TestNotifyRecordsSentOnFirstAttempt(t *testing.T) {
	sink := &fakeSink{}
	store := &fakeStatusStore{}
	d := NewDispatcher(sink, store, fakeChatConfig{campaignChannel: "#campaigns"}, logger.New("test"))

	round := testRound()
	d.Notify(context.Background(), round, domain.StagePreLaunch, StageMessage(round, domain.StagePreLaunch))

	if sink.calls != 1 {
		t.Fatalf("calls = %d, want 1", sink.calls)
	}
	if sink.channels[0] != "#campaigns" {
		t.Errorf("channel = %q, want %q", sink.channels[0], "#campaigns")
	}
	if len(store.states) != 1 || store.states[0] != domain.NotificationSent {
		t.Errorf("recorded states = %v, want [sent]", store.states)
	}
	if store.stages[0] != domain.StagePreLaunch {
		t.Errorf("recorded stage = %q, want %q", store.stages[0], domain.StagePreLaunch)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	sink := &fakeSink{failures: 2}
	store := &fakeStatusStore{}
	d := NewDispatcher(sink, store, fakeChatConfig{campaignChannel: "#campaigns"}, logger.New("test"))
	d.backoff = time.Millisecond

	round := testRound()
	d.Notify(context.Background(), round, domain.StageLaunchWarning, "t-15")

	if sink.calls != 3 {
		t.Fatalf("calls = %d, want 3", sink.calls)
	}
	if store.states[0] != domain.NotificationSent {
		t.Errorf("state = %q, want sent", store.states[0])
	}
}

func TestNotifyRecordsFailedAfterExhaustion(t *testing.T) {
	sink := &fakeSink{failures: 10}
	store := &fakeStatusStore{}
	d := NewDispatcher(sink, store, fakeChatConfig{campaignChannel: "#campaigns"}, logger.New("test"))
	d.backoff = time.Millisecond

	round := testRound()
	d.Notify(context.Background(), round, domain.StageLaunch, "launched")

	if sink.calls != 3 {
		t.Fatalf("calls = %d, want 3", sink.calls)
	}
	if store.states[0] != domain.NotificationFailed {
		t.Errorf("state = %q, want failed", store.states[0])
	}
}

func TestAlerterFallsBackWhenChatFails(t *testing.T) {
	sink := &fakeSink{failures: 10}
	a := NewAlerter(sink, nil, fakeChatConfig{alertChannel: "#campaign-alerts"}, logger.New("test"))

	// Must not panic or block with a failing sink and no mail fallback.
	a.Alert(context.Background(), "Round blocked: autumn-drive", "pre-flight size check failed")

	if sink.calls != 1 {
		t.Fatalf("calls = %d, want 1", sink.calls)
	}
	if sink.channels[0] != "#campaign-alerts" {
		t.Errorf("channel = %q, want %q", sink.channels[0], "#campaign-alerts")
	}
}

func TestAlerterPostsToAlertChannel(t *testing.T) {
	sink := &fakeSink{}
	a := NewAlerter(sink, nil, fakeChatConfig{alertChannel: "#campaign-alerts"}, logger.New("test"))

	a.Alert(context.Background(), "Launch outcome unknown: autumn-drive", "response truncated after acknowledgment")

	if sink.calls != 1 {
		t.Fatalf("calls = %d, want 1", sink.calls)
	}
	if !strings.Contains(sink.texts[0], "Launch outcome unknown") {
		t.Errorf("text = %q, missing subject", sink.texts[0])
	}
}

func TestStageMessageMentionsRecipientCount(t *testing.T) {
	round := testRound()
	msg := StageMessage(round, domain.StagePreLaunch)
	if !strings.Contains(msg, "1000 recipients") {
		t.Errorf("message = %q, want recipient count", msg)
	}
	if !strings.Contains(msg, "autumn-drive") {
		t.Errorf("message = %q, want campaign name", msg)
	}
}
