package notify

import (
	"context"
	"fmt"
	"time"

	"campaign_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// AlertMailer delivers operator alerts over SMTP when the chat sink is
// unreachable. It is a fallback path only.
type AlertMailer struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
	toEmail   string
}

// NewAlertMailer creates the SMTP fallback mailer. Returns nil when no
// SMTP fallback is configured.
func NewAlertMailer(cfg config.AlertMailConfig) *AlertMailer {
	if !cfg.IsAlertMailEnabled() {
		return nil
	}

	return &AlertMailer{
		host:      cfg.GetAlertSMTPHost(),
		port:      cfg.GetAlertSMTPPort(),
		username:  cfg.GetAlertSMTPUsername(),
		password:  cfg.GetAlertSMTPPassword(),
		fromEmail: cfg.GetAlertFromAddress(),
		toEmail:   cfg.GetAlertToAddress(),
	}
}

// Send delivers one alert email to the configured operator address.
func (m *AlertMailer) Send(ctx context.Context, subject, body string) error {
	if m == nil {
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.fromEmail); err != nil {
		return fmt.Errorf("alert mail from: %w", err)
	}
	if err := msg.To(m.toEmail); err != nil {
		return fmt.Errorf("alert mail to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("alert mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("alert mail send: %w", err)
	}

	return nil
}
