package notify

import (
	"context"
	"fmt"

	"campaign_backend/platform/config"
	"campaign_backend/platform/logger"
)

// Alerter posts operator-facing alerts to the alert channel. When the chat
// post fails it falls back to email, so a chat outage cannot silence a
// blocked round.
type Alerter struct {
	sink    ChatSink
	mail    *AlertMailer
	channel string
	log     *logger.Logger
}

// NewAlerter creates an alerter for the configured alert channel. mail may
// be nil when no SMTP fallback is configured.
func NewAlerter(sink ChatSink, mail *AlertMailer, cfg config.ChatConfig, log *logger.Logger) *Alerter {
	return &Alerter{
		sink:    sink,
		mail:    mail,
		channel: cfg.GetChatAlertChannel(),
		log:     log,
	}
}

// Alert delivers one operator alert. Chat first, email second; when both
// fail the alert is logged at error level as the last resort.
func (a *Alerter) Alert(ctx context.Context, subject, detail string) {
	if a == nil {
		return
	}

	text := fmt.Sprintf(":rotating_light: %s\n%s", subject, detail)

	var chatErr error
	if a.sink != nil {
		if _, chatErr = a.sink.PostMessage(ctx, a.channel, text); chatErr == nil {
			return
		}
		a.log.Warn("alert chat post failed, trying email fallback",
			"subject", subject, "error", chatErr)
	}

	if a.mail == nil {
		a.log.Error("operator alert undeliverable",
			"subject", subject, "detail", detail, "chat_error", chatErr)
		return
	}

	if err := a.mail.Send(ctx, subject, detail); err != nil {
		a.log.Error("operator alert undeliverable",
			"subject", subject, "detail", detail, "chat_error", chatErr, "mail_error", err)
	}
}
