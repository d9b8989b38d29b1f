package services

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

//go:embed templates/email/*.html
var emailTemplates embed.FS

// emailedEvents are the events worth a human's attention
var emailedEvents = map[string]bool{
	EventDiscrepancyOpened: true,
	EventMovementRejected:  true,
	EventAuditChainBroken:  true,
}

// EmailSender is the part of the Resend client the sink uses
type EmailSender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailService mails selected events to the configured recipients
type EmailService struct {
	from       string
	recipients []string
	sender     EmailSender
}

func NewEmailService(cfg *config.Config) *EmailService {
	client := resend.NewClient(cfg.ResendAPIKey)
	return &EmailService{
		from:       cfg.FromEmail,
		recipients: cfg.NotifyEmails,
		sender:     client.Emails,
	}
}

func (s *EmailService) Name() string { return "email" }

func (s *EmailService) Deliver(ctx context.Context, event Event) error {
	if !emailedEvents[event.Type] || len(s.recipients) == 0 {
		return nil
	}

	body, err := s.renderTemplate("event.html", event)
	if err != nil {
		return err
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      s.recipients,
		Subject: event.Subject(),
		Html:    body,
	}
	if _, err := s.sender.Send(params); err != nil {
		logger.Log.ErrorContext(ctx, "failed to send event email", "type", event.Type, "error", err)
		return err
	}

	logger.Log.InfoContext(ctx, "event email sent", "type", event.Type, "recipients", len(s.recipients))
	return nil
}

func (s *EmailService) renderTemplate(name string, data any) (string, error) {
	tmpl, err := template.ParseFS(emailTemplates, "templates/email/"+name)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}

	return buf.String(), nil
}
