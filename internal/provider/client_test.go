package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"campaign_backend/platform/logger"
)

type testProviderConfig struct {
	baseURL string
}

func (c testProviderConfig) GetProviderBaseURL() string            { return c.baseURL }
func (c testProviderConfig) GetProviderAPIKey() string             { return "test-key" }
func (c testProviderConfig) GetProviderRequestsPerSecond() float64 { return 100 }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(testProviderConfig{baseURL: srv.URL}, logger.New("development"))
}

func TestTriggerSendSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sends" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_, _ = w.Write([]byte(`{"externalId":"ext-42"}`))
	})

	externalID, err := c.TriggerSend(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("TriggerSend failed: %v", err)
	}
	if externalID != "ext-42" {
		t.Errorf("externalID = %q, want ext-42", externalID)
	}
}

func TestTriggerSendRejectedIsNotAcknowledged(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := c.TriggerSend(context.Background(), "draft-1")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if sendErr.Acknowledged {
		t.Error("a rejected trigger must not count as acknowledged")
	}
}

func TestTriggerSendAckThenDropIsAmbiguous(t *testing.T) {
	// The provider acks with 200 but the response body is unusable,
	// simulating a connection drop after acknowledgment.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"external`))
	})

	_, err := c.TriggerSend(context.Background(), "draft-1")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if !sendErr.Acknowledged {
		t.Error("a failure after a 2xx response must be classified as acknowledged")
	}
}

func TestTriggerSendConnectionRefusedIsNotAcknowledged(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // client now dials a dead address

	c := NewClient(testProviderConfig{baseURL: srv.URL}, logger.New("development"))
	_, err := c.TriggerSend(context.Background(), "draft-1")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *SendError, got %v", err)
	}
	if sendErr.Acknowledged {
		t.Error("a transport failure with no response must not count as acknowledged")
	}
}

func TestFindDraftNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.FindDraft(context.Background(), "Autumn Launch")
	if !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
}

func TestGetBounceEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sends/ext-42/bounces" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"events":[
			{"contactId":"c1","type":"hard","reason":"mailbox does not exist"},
			{"contactId":"c2","type":"soft","reason":"mailbox full"}
		]}`))
	})

	events, err := c.GetBounceEvents(context.Background(), "ext-42")
	if err != nil {
		t.Fatalf("GetBounceEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != BounceHard || events[1].Type != BounceSoft {
		t.Errorf("unexpected bounce types: %+v", events)
	}
}
