// Package provider implements the HTTP client for the bulk-email provider.
// One client instance exists per process and is injected into every
// component that talks to the provider; constructing a client per call is
// not allowed.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"

	"golang.org/x/time/rate"
)

// ErrDraftNotFound is returned when no draft exists for a campaign.
var ErrDraftNotFound = errors.New("provider: draft not found")

// SendError is the typed failure of TriggerSend. Acknowledged reports
// whether the provider confirmed receipt of the trigger before the failure:
// once acknowledged, the send may already be running and the call must
// never be repeated.
type SendError struct {
	Acknowledged bool
	Err          error
}

func (e *SendError) Error() string {
	if e.Acknowledged {
		return fmt.Sprintf("provider: send acknowledged but outcome unknown: %v", e.Err)
	}
	return fmt.Sprintf("provider: send not acknowledged: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Client talks to the bulk-email provider REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewClient creates the process-wide provider client.
func NewClient(cfg config.ProviderConfig, log *logger.Logger) *Client {
	rps := cfg.GetProviderRequestsPerSecond()
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetProviderBaseURL(), "/"),
		apiKey:  cfg.GetProviderAPIKey(),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log,
	}
}

// FindDraft returns the id of the provider draft prepared for a campaign.
// Pre-flight verification fails when no draft exists.
func (c *Client) FindDraft(ctx context.Context, campaignName string) (string, error) {
	var out struct {
		DraftID string `json:"draftId"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/drafts?campaign="+url.QueryEscape(campaignName), nil, &out)
	if err != nil {
		return "", err
	}
	if out.DraftID == "" {
		return "", ErrDraftNotFound
	}
	return out.DraftID, nil
}

// CreateDraft creates a provider draft for a campaign round.
func (c *Client) CreateDraft(ctx context.Context, campaignName, listID string) (string, error) {
	body := map[string]string{"campaign": campaignName, "listId": listID}
	var out struct {
		DraftID string `json:"draftId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/drafts", body, &out); err != nil {
		return "", err
	}
	return out.DraftID, nil
}

// TriggerSend starts the provider-side send of a draft. This operation is
// not idempotent; failures are reported as *SendError so the caller can
// tell an unacknowledged failure (safe to retry) from an ambiguous one
// (never retried, escalated for manual verification).
func (c *Client) TriggerSend(ctx context.Context, draftID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &SendError{Acknowledged: false, Err: err}
	}

	payload, err := json.Marshal(map[string]string{"draftId": draftID})
	if err != nil {
		return "", &SendError{Acknowledged: false, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sends", bytes.NewReader(payload))
	if err != nil {
		return "", &SendError{Acknowledged: false, Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		// No acknowledgment arrived before the failure.
		return "", &SendError{Acknowledged: false, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", &SendError{
			Acknowledged: false,
			Err:          fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}

	// A 2xx status is the acknowledgment. Anything that goes wrong from
	// here on leaves the outcome ambiguous.
	var out struct {
		ExternalID string `json:"externalId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &SendError{Acknowledged: true, Err: fmt.Errorf("decode send response: %w", err)}
	}
	if out.ExternalID == "" {
		return "", &SendError{Acknowledged: true, Err: errors.New("send response missing externalId")}
	}

	c.log.Info("provider send triggered", "draft_id", draftID, "external_id", out.ExternalID)
	return out.ExternalID, nil
}

// GetBounceEvents fetches the bounce events recorded for a sent campaign.
func (c *Client) GetBounceEvents(ctx context.Context, externalID string) ([]BounceEvent, error) {
	var out struct {
		Events []BounceEvent `json:"events"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/sends/"+url.PathEscape(externalID)+"/bounces", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Events, nil
}

// GetDeliveryMetrics fetches aggregate delivery metrics for a sent campaign.
func (c *Client) GetDeliveryMetrics(ctx context.Context, externalID string) (DeliveryMetrics, error) {
	var out DeliveryMetrics
	err := c.doJSON(ctx, http.MethodGet, "/v1/sends/"+url.PathEscape(externalID)+"/metrics", nil, &out)
	return out, err
}

// ListContacts returns the membership of a provider list.
func (c *Client) ListContacts(ctx context.Context, listID string) ([]ListContact, error) {
	var out struct {
		Contacts []ListContact `json:"contacts"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/v1/lists/"+url.PathEscape(listID)+"/contacts", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.Contacts, nil
}

// AddContact adds a contact to a list.
func (c *Client) AddContact(ctx context.Context, listID, contactID string) error {
	body := map[string]string{"contactId": contactID}
	return c.doJSON(ctx, http.MethodPost, "/v1/lists/"+url.PathEscape(listID)+"/contacts", body, nil)
}

// RemoveContact removes a contact from a list. Removing a contact that is
// not a member is a no-op on the provider side.
func (c *Client) RemoveContact(ctx context.Context, listID, contactID string) error {
	return c.doJSON(ctx, http.MethodDelete,
		"/v1/lists/"+url.PathEscape(listID)+"/contacts/"+url.PathEscape(contactID), nil, nil)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal provider payload: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDraftNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
