package notify

import (
	"fmt"
	"time"

	"campaign_backend/internal/rounds/domain"
)

// StageMessage renders the campaign-channel text for a stage. Content may
// later be replaced by an enrichment step; the dispatcher does not care
// where the text came from.
func StageMessage(round domain.Round, stage domain.Stage) string {
	label := fmt.Sprintf("%s (round %d)", round.CampaignName, round.RoundNumber)

	switch stage {
	case domain.StagePreLaunch:
		return fmt.Sprintf("Heads up: %s launches %s to %d recipients on list %s.",
			label, formatLaunch(round.ScheduledAt), round.RecipientCount, round.ListID)
	case domain.StagePreFlight:
		return fmt.Sprintf("Pre-flight passed for %s. Round is ready to launch at %s.",
			label, formatLaunch(round.ScheduledAt))
	case domain.StageLaunchWarning:
		return fmt.Sprintf("T-15 minutes: %s launches at %s.", label, formatLaunch(round.ScheduledAt))
	case domain.StageLaunch:
		return fmt.Sprintf("%s is out the door to %d recipients.", label, round.RecipientCount)
	case domain.StageWrapUp:
		if round.Metrics != nil {
			m := round.Metrics
			return fmt.Sprintf("Wrap-up for %s: sent %d, delivered %d, opened %d, clicked %d, bounced %d.",
				label, m.Sent, m.Delivered, m.Opened, m.Clicked, m.Bounced)
		}
		return fmt.Sprintf("Wrap-up for %s: delivery metrics not yet available.", label)
	case domain.StageMaintenance:
		return fmt.Sprintf("List maintenance finished for %s.", label)
	default:
		return fmt.Sprintf("Stage %s fired for %s.", stage, label)
	}
}

func formatLaunch(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}
