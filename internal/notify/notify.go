// Package notify emails a summary after a plate was swapped.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"permitinfo-backend/internal/components/telemetry"
	"strings"
	"time"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const report_mailer_send = "mailer.send"

var tracer = otel.Tracer("notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Config struct {
	Smtp SmtpConfig `json:"smtp"`
	To   []string   `json:"to"`
}

// Enabled is false when there is nobody to notify.
func (c Config) Enabled() bool {
	return c.Smtp.Server != "" && len(c.To) > 0
}

type PlateUpdate struct {
	PermitUrl     string
	PreviousPlate string
	NewPlate      string
	At            time.Time
}

type Mailer struct {
	config Config
	tel    telemetry.API
}

func NewMailer(config Config, tel telemetry.API) Mailer {
	return Mailer{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

func renderPlateUpdate(u PlateUpdate) string {
	previous := u.PreviousPlate
	if previous == "" {
		previous = "(none)"
	}
	return fmt.Sprintf(`The active plate of a parking permit was changed.

Permit: %s
Previous plate: %s
New plate: %s
Changed at: %s

The portal confirmed the change, it was not read back afterwards.`,
		u.PermitUrl,
		previous,
		u.NewPlate,
		u.At.Format("Jan 2, 2006 3:04 PM MST"),
	)
}

// PlateUpdated sends the summary of `u` to every recipient, it is a no-op
// when the mailer is not configured.
func (m Mailer) PlateUpdated(ctx context.Context, u PlateUpdate) error {
	if !m.config.Enabled() {
		return nil
	}

	ctx, span := tracer.Start(ctx, "notify.plate-updated")
	defer span.End()

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Permit Info <%s>", m.config.Smtp.EmailAddress)
	mail.To = m.config.To
	mail.Subject = fmt.Sprintf("Plate %s is now active", u.NewPlate)
	mail.Text = []byte(renderPlateUpdate(u))

	addr := fmt.Sprintf("%s:%d", m.config.Smtp.Server, m.config.Smtp.Port)
	err := mail.Send(
		addr,
		smtp.PlainAuth("", m.config.Smtp.EmailAddress, m.config.Smtp.Password, m.config.Smtp.Server),
	)
	// development smtp servers take mail without authentication
	if err != nil && (strings.Contains(err.Error(), "server doesn't support AUTH") ||
		strings.Contains(err.Error(), "unencrypted connection")) {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		m.tel.ReportWarning(report_mailer_send, err)
		return err
	}
	return nil
}
