package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/username/wealthos/backend/src/config"
	"github.com/username/wealthos/backend/src/logger"
)

// AlertService notifies the operator about sync outcomes that need
// attention: failed runs and sources with repeated consecutive failures.
type AlertService interface {
	SendSyncFailureAlert(jobID string, failedSources []string, errSummary string) error
	SendSourceDegradedAlert(sourceID string, consecutiveFailures int, lastError string) error
}

func NewAlertService() AlertService {
	if config.Cfg == nil {
		slog.Error("Configuration (config.Cfg) is nil. Alert service will default to mock.")
		return &MockAlertService{}
	}

	provider := strings.ToLower(config.Cfg.AlertProvider)
	logger.L.Info("Initializing alert service", "provider", provider)

	switch provider {
	case "mailgun":
		if config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" || config.Cfg.AlertRecipientEmail == "" {
			logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or recipient missing). Falling back to MockAlertService.")
			return &MockAlertService{}
		}
		mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
		logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
		return &MailgunAlertService{
			mg:             mg,
			senderEmail:    config.Cfg.AlertSenderEmail,
			recipientEmail: config.Cfg.AlertRecipientEmail,
		}
	default:
		logger.L.Info("Defaulting to MockAlertService.")
		return &MockAlertService{}
	}
}

type MailgunAlertService struct {
	mg             mailgun.Mailgun
	senderEmail    string
	recipientEmail string
}

func (s *MailgunAlertService) SendSyncFailureAlert(jobID string, failedSources []string, errSummary string) error {
	subject := fmt.Sprintf("Portfolio sync %s: %d source(s) failed", jobID, len(failedSources))
	body := fmt.Sprintf(`Sync job %s finished with failures.

Failed sources: %s

Errors:
%s

Check the import_jobs table for full details.`,
		jobID, strings.Join(failedSources, ", "), errSummary)

	return s.send(subject, body, "sync-failure")
}

func (s *MailgunAlertService) SendSourceDegradedAlert(sourceID string, consecutiveFailures int, lastError string) error {
	subject := fmt.Sprintf("Source %s degraded: %d consecutive failures", sourceID, consecutiveFailures)
	body := fmt.Sprintf(`Source %s has failed %d sync runs in a row.

Last error:
%s

The source remains configured; fix its credentials or disable it.`,
		sourceID, consecutiveFailures, lastError)

	return s.send(subject, body, "source-degraded")
}

func (s *MailgunAlertService) send(subject, body, tag string) error {
	message := s.mg.NewMessage(s.senderEmail, subject, body, s.recipientEmail)
	message.AddTag(tag)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send alert via Mailgun", "error", err, "subject", subject, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	logger.L.Info("Alert sent via Mailgun", "subject", subject, "id", id)
	return nil
}

type MockAlertService struct{}

func (m *MockAlertService) SendSyncFailureAlert(jobID string, failedSources []string, errSummary string) error {
	logger.L.Info("MockAlertService: Would send sync failure alert.",
		"jobID", jobID, "failedSources", failedSources, "errors", errSummary)
	return nil
}

func (m *MockAlertService) SendSourceDegradedAlert(sourceID string, consecutiveFailures int, lastError string) error {
	logger.L.Info("MockAlertService: Would send source degraded alert.",
		"sourceID", sourceID, "consecutiveFailures", consecutiveFailures, "lastError", lastError)
	return nil
}
