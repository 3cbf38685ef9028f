package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"campaign_backend/internal/provider"
	"campaign_backend/internal/rounds/domain"
	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"
)

// ProviderGateway is the slice of the provider client the stage actions use.
type ProviderGateway interface {
	FindDraft(ctx context.Context, campaignName string) (string, error)
	TriggerSend(ctx context.Context, draftID string) (string, error)
	GetDeliveryMetrics(ctx context.Context, externalID string) (provider.DeliveryMetrics, error)
	ListContacts(ctx context.Context, listID string) ([]provider.ListContact, error)
}

// SuppressionSource reports contacts already suppressed for a campaign.
type SuppressionSource interface {
	ListSuppressedContacts(ctx context.Context, campaignName string) ([]string, error)
}

// Actions holds the side-effecting stage checks and operations. Each action
// returns a tagged StageResult; none of them touches the round's persisted
// state, that is the orchestrator's job.
type Actions struct {
	provider     ProviderGateway
	suppressions SuppressionSource
	tolerance    int
	log          *logger.Logger
}

// NewActions creates the stage action set.
func NewActions(p ProviderGateway, s SuppressionSource, cfg config.LifecycleConfig, log *logger.Logger) *Actions {
	return &Actions{
		provider:     p,
		suppressions: s,
		tolerance:    cfg.GetListSizeTolerance(),
		log:          log,
	}
}

// PreFlight runs the three launch preconditions: actual list size within
// tolerance of the planned recipient count, no suppressed contacts still on
// the list, and a provider draft present for the campaign.
func (a *Actions) PreFlight(ctx context.Context, round domain.Round) StageResult {
	contacts, err := a.provider.ListContacts(ctx, round.ListID)
	if err != nil {
		return Transient(fmt.Sprintf("could not read list %s", round.ListID), err)
	}

	actual, expected := len(contacts), round.RecipientCount
	if diff := abs(actual - expected); diff > a.tolerance {
		return Blocking(fmt.Sprintf(
			"list %s has %d contacts, expected %d (allowed discrepancy %d)",
			round.ListID, actual, expected, a.tolerance))
	}

	suppressed, err := a.suppressions.ListSuppressedContacts(ctx, round.CampaignName)
	if err != nil {
		return Transient("could not load suppressed contacts", err)
	}
	if present := intersect(contacts, suppressed); len(present) > 0 {
		return Blocking(fmt.Sprintf(
			"list %s still contains %d suppressed contacts (first: %s)",
			round.ListID, len(present), present[0]))
	}

	if _, err := a.provider.FindDraft(ctx, round.CampaignName); err != nil {
		if errors.Is(err, provider.ErrDraftNotFound) {
			return Blocking(fmt.Sprintf("no provider draft exists for campaign %s", round.CampaignName))
		}
		return Transient("could not verify provider draft", err)
	}

	return Success()
}

// Launch triggers the provider send. The trigger is not idempotent: a
// failure after the provider acknowledged the request is ambiguous and must
// never be retried.
func (a *Actions) Launch(ctx context.Context, round domain.Round) (string, StageResult) {
	draftID, err := a.provider.FindDraft(ctx, round.CampaignName)
	if err != nil {
		if errors.Is(err, provider.ErrDraftNotFound) {
			return "", Blocking(fmt.Sprintf("no provider draft exists for campaign %s", round.CampaignName))
		}
		return "", Transient("could not resolve provider draft", err)
	}

	externalID, err := a.provider.TriggerSend(ctx, draftID)
	if err != nil {
		var sendErr *provider.SendError
		if errors.As(err, &sendErr) && sendErr.Acknowledged {
			return "", Ambiguous("send trigger acknowledged but outcome unconfirmed", err)
		}
		return "", Transient("send trigger was not accepted", err)
	}

	return externalID, Success()
}

// WrapUp pulls delivery metrics for the sent campaign.
func (a *Actions) WrapUp(ctx context.Context, round domain.Round) (domain.Metrics, StageResult) {
	if round.ExternalCampaignID == nil {
		return domain.Metrics{}, Blocking("round has no external campaign id to pull metrics for")
	}

	m, err := a.provider.GetDeliveryMetrics(ctx, *round.ExternalCampaignID)
	if err != nil {
		return domain.Metrics{}, Transient("could not pull delivery metrics", err)
	}

	return domain.Metrics{
		Sent:      m.Sent,
		Delivered: m.Delivered,
		Opened:    m.Opened,
		Clicked:   m.Clicked,
		Bounced:   m.Bounced,
	}, Success()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func intersect(contacts []provider.ListContact, suppressed []string) []string {
	if len(suppressed) == 0 {
		return nil
	}
	byID := make(map[string]struct{}, len(suppressed))
	for _, id := range suppressed {
		byID[id] = struct{}{}
	}
	var present []string
	for _, c := range contacts {
		if _, ok := byID[c.ContactID]; ok {
			present = append(present, c.ContactID)
		}
	}
	return present
}
