// Package email sends buyer confirmations over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"

	"github.com/domodwyer/mailyak/v3"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Confirmation is the data rendered into the purchase confirmation email.
type Confirmation struct {
	To          string
	BuyerName   string
	Number      string
	RaffleTitle string
	PaymentID   string
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>¡Gracias por tu compra, {{.BuyerName}}!</h2>
  <p>Tu número para la rifa <strong>{{.RaffleTitle}}</strong> quedó confirmado.</p>
  <p style="font-size: 32px; font-weight: bold; letter-spacing: 4px;">{{.Number}}</p>
  {{if .PaymentID}}<p>Referencia de pago: {{.PaymentID}}</p>{{end}}
  <p>¡Mucha suerte!</p>
</body>
</html>`))

type Sender struct {
	cfg  Config
	auth smtp.Auth
	log  *slog.Logger
}

func NewSender(cfg Config, log *slog.Logger) *Sender {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	return &Sender{
		cfg:  cfg,
		auth: auth,
		log:  log.With(slog.String("component", "email")),
	}
}

// Enabled reports whether an SMTP host is configured.
func (s *Sender) Enabled() bool {
	return s.cfg.Host != ""
}

func Subject(number string) string {
	return "Confirmación de tu número de rifa: " + number
}

func Render(c Confirmation) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendConfirmation mails c to the buyer. Without an SMTP host the message is
// only logged.
func (s *Sender) SendConfirmation(ctx context.Context, c Confirmation) error {
	const op = "email.Sender.SendConfirmation"

	body, err := Render(c)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if !s.Enabled() {
		s.log.InfoContext(ctx, "smtp not configured, confirmation skipped",
			slog.String("number", c.Number),
			slog.String("to", c.To),
		)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	mail := mailyak.New(net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)), s.auth)
	mail.To(c.To)
	mail.From(s.cfg.From)
	if s.cfg.FromName != "" {
		mail.FromName(s.cfg.FromName)
	}
	mail.Subject(Subject(c.Number))
	mail.HTML().Set(body)

	if err := mail.Send(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	s.log.InfoContext(ctx, "confirmation sent", slog.String("number", c.Number))

	return nil
}
