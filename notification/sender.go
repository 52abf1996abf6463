package notification

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/jordan-wright/email"

	"portfolio-beacon/beacon"
	"portfolio-beacon/config"
	"portfolio-beacon/models"
	"portfolio-beacon/utils"
)

//go:embed templates/visit.html
var templates embed.FS

var visitTemplate = template.Must(template.ParseFS(templates, "templates/visit.html"))

// Sender emails the site owner when a new visitor session is tracked.
type Sender struct {
	from    string
	to      []string
	deliver func(e *email.Email) error
}

var _ beacon.Mirror = (*Sender)(nil)

func NewSender(cfg *config.Config) *Sender {
	addr := fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	auth := smtp.PlainAuth("", cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.Host)

	return &Sender{
		from: cfg.SMTP.From,
		to:   cfg.Notify.To,
		deliver: func(e *email.Email) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *Sender) Name() string {
	return "email"
}

// Forward renders and sends the new-visitor email.
func (s *Sender) Forward(ctx context.Context, visit models.Visit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := renderVisit(visit)
	if err != nil {
		return err
	}

	e := email.NewEmail()
	e.From = s.from
	e.To = s.to
	e.Subject = subject(visit.Payload)
	e.HTML = body

	if err := s.deliver(e); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func subject(p models.TrackingPayload) string {
	if p.City != "" {
		return fmt.Sprintf("New visitor from %s, %s", p.City, p.Country)
	}
	if p.Country != "" {
		return fmt.Sprintf("New visitor from %s", p.Country)
	}
	return "New visitor"
}

func renderVisit(visit models.Visit) ([]byte, error) {
	p := visit.Payload
	device := utils.ParseUserAgent(p.UserAgent)

	data := map[string]interface{}{
		"SessionID": visit.SessionID,
		"VisitedAt": p.Timestamp,
		"URL":       p.URL,
		"Referrer":  p.Referrer,
		"Campaign":  p.UTMCampaign,
		"Source":    p.UTMSource,
		"Medium":    p.UTMMedium,
		"IPAddress": p.IP,
		"Location":  joinNonEmpty(p.City, p.Region, p.Country),
		"Language":  p.Language,
		"Timezone":  p.Timezone,
		"Screen":    p.Screen,
		"Device":    device.DeviceType,
		"Browser":   device.Browser,
		"OS":        device.OS,
	}

	var body bytes.Buffer
	if err := visitTemplate.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to execute template: %w", err)
	}
	return body.Bytes(), nil
}

func joinNonEmpty(parts ...string) string {
	var buf bytes.Buffer
	for _, part := range parts {
		if part == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(part)
	}
	return buf.String()
}
