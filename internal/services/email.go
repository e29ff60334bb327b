package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"strings"

	"github.com/huangang/kickoff/backend/internal/config"
	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/huangang/kickoff/backend/pkg/logger"
	"gopkg.in/gomail.v2"
)

// Notifier tells people about draft review events.
type Notifier interface {
	DraftSubmitted(ctx context.Context, d *models.Draft, reviewURL string) error
	DraftApproved(ctx context.Context, d *models.Draft, provisioning bool) error
	ChangesRequested(ctx context.Context, d *models.Draft) error
}

type EmailService struct {
	config *config.EmailConfig
	send   func(*gomail.Message) error
}

func NewEmailService(cfg *config.EmailConfig) *EmailService {
	s := &EmailService{config: cfg}
	s.send = s.dialAndSend
	return s
}

func (s *EmailService) enabled() bool {
	return s.config != nil && s.config.Enabled && s.config.Host != ""
}

func (s *EmailService) from() string {
	if s.config.From != "" {
		return s.config.From
	}
	return s.config.Username
}

func (s *EmailService) DraftSubmitted(_ context.Context, d *models.Draft, reviewURL string) error {
	sub := d.Submission()
	subject := fmt.Sprintf("[Kickoff] Review requested: %s", projectLabel(&sub))

	var sb strings.Builder
	sb.WriteString("<h2>A project kickoff is waiting for your review</h2>")
	writeSummary(&sb, &sub, []struct{ label, value string }{
		{"Submitted by", d.OwnerEmail},
	})
	sb.WriteString(fmt.Sprintf("<p><a href=\"%s\">Open the submission</a></p>", html.EscapeString(reviewURL)))
	sb.WriteString("<p style=\"color: #888; font-size: 12px;\">Anyone with this link can review the submission. Do not forward it.</p>")

	return s.sendTo(d.ApproverEmail, subject, sb.String())
}

func (s *EmailService) DraftApproved(_ context.Context, d *models.Draft, provisioning bool) error {
	sub := d.Submission()
	subject := fmt.Sprintf("[Kickoff] Approved: %s", projectLabel(&sub))

	var sb strings.Builder
	sb.WriteString("<h2>Your project kickoff was approved</h2>")
	writeSummary(&sb, &sub, []struct{ label, value string }{
		{"Approver", d.ApproverEmail},
	})
	writeNotes(&sb, d.ApproverNotes)
	if provisioning {
		sb.WriteString("<p>The project resources are being created now. You can follow progress from your submissions list.</p>")
	}

	return s.sendTo(d.OwnerEmail, subject, sb.String())
}

func (s *EmailService) ChangesRequested(_ context.Context, d *models.Draft) error {
	sub := d.Submission()
	subject := fmt.Sprintf("[Kickoff] Changes requested: %s", projectLabel(&sub))

	var sb strings.Builder
	sb.WriteString("<h2>Your project kickoff needs changes</h2>")
	writeSummary(&sb, &sub, []struct{ label, value string }{
		{"Reviewer", d.ApproverEmail},
	})
	writeNotes(&sb, d.ApproverNotes)

	return s.sendTo(d.OwnerEmail, subject, sb.String())
}

func projectLabel(sub *models.ProjectSubmission) string {
	if name := sub.TrimmedName(); name != "" {
		return name
	}
	return "Untitled project"
}

func writeSummary(sb *strings.Builder, sub *models.ProjectSubmission, extra []struct{ label, value string }) {
	rows := append([]struct{ label, value string }{
		{"Project", projectLabel(sub)},
		{"Acronym", sub.Acronym},
		{"Start", sub.StartDate},
		{"End", sub.EndDate},
	}, extra...)

	sb.WriteString("<table style=\"border-collapse: collapse; margin-bottom: 20px;\">")
	for _, r := range rows {
		if r.value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("<tr><td style=\"padding: 8px; border: 1px solid #ddd; font-weight: bold;\">%s</td><td style=\"padding: 8px; border: 1px solid #ddd;\">%s</td></tr>",
			r.label, html.EscapeString(r.value)))
	}
	sb.WriteString("</table>")
}

func writeNotes(sb *strings.Builder, notes string) {
	if notes == "" {
		return
	}
	sb.WriteString("<h3>Notes</h3>")
	sb.WriteString(fmt.Sprintf("<div style=\"background: #f9f9f9; padding: 16px; border-radius: 4px; white-space: pre-wrap;\">%s</div>", html.EscapeString(notes)))
}

func (s *EmailService) sendTo(recipient, subject, body string) error {
	if !s.enabled() {
		logger.Debug().Str("to", recipient).Str("subject", subject).Msg("[Email] Disabled, not sending")
		return nil
	}
	if recipient == "" {
		logger.Warnf("[Email] No recipient for %q", subject)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from())
	m.SetHeader("To", recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", "<html><body style=\"font-family: Arial, sans-serif;\">"+body+"</body></html>")

	if err := s.send(m); err != nil {
		logger.Errorf("[Email] Failed to send %q to %s: %v", subject, recipient, err)
		return err
	}
	logger.Infof("[Email] Sent %q to %s", subject, recipient)
	return nil
}

func (s *EmailService) dialAndSend(m *gomail.Message) error {
	d := gomail.NewDialer(s.config.Host, s.config.Port, s.config.Username, s.config.Password)
	// implicit TLS; otherwise STARTTLS is negotiated when offered
	d.SSL = s.config.UseTLS
	d.TLSConfig = &tls.Config{ServerName: s.config.Host}
	return d.DialAndSend(m)
}
