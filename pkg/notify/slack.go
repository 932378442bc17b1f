// Package notify delivers completed-triage notifications to Slack.
// The service is nil-safe and fail-open: a nil service or a Slack
// outage never affects a triage result.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/incidentkit/incidentkit/pkg/models"
)

const (
	postTimeout        = 10 * time.Second
	maxBlockTextLength = 2900
)

var severityEmoji = map[models.Severity]string{
	models.SeverityCritical: ":rotating_light:",
	models.SeverityHigh:     ":red_circle:",
	models.SeverityMedium:   ":large_yellow_circle:",
	models.SeverityLow:      ":large_green_circle:",
}

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service posts triage notifications to a Slack channel.
// Nil-safe: all methods are no-ops on a nil receiver.
type Service struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewService creates a Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:     goslack.New(cfg.Token),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// NewServiceWithAPIURL targets a custom API URL for tests.
func NewServiceWithAPIURL(cfg ServiceConfig, apiURL string) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		api:     goslack.New(cfg.Token, goslack.OptionAPIURL(apiURL)),
		channel: cfg.Channel,
		logger:  slog.Default().With("component", "notify"),
	}
}

// TriageCompleted posts the triage outcome. Fail-open: errors are
// logged, never returned.
func (s *Service) TriageCompleted(ctx context.Context, result *models.TriageResult) {
	if s == nil || result == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	blocks := BuildTriageMessage(result)
	_, _, err := s.api.PostMessageContext(ctx, s.channel, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		s.logger.Error("Failed to send Slack notification",
			"alert", result.Alert.Fingerprint(),
			"error", err)
		return
	}
	s.logger.Info("Slack notification sent", "alert", result.Alert.Fingerprint())
}

// BuildTriageMessage creates Block Kit blocks for a triage outcome.
// The body is the management summary; responders click through to the
// engine output for the full detail.
func BuildTriageMessage(result *models.TriageResult) []goslack.Block {
	emoji := severityEmoji[result.Classification.Severity]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *%s* on `%s` — severity %s",
		emoji, result.Alert.Name, result.Alert.Service, result.Classification.Severity)

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
	}

	if summary := result.Communications.ManagementSummary; summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(summary), false, false),
			nil, nil,
		))
	}

	var fields []string
	if result.RootCause != "" {
		fields = append(fields, "*Root cause:* "+firstSentence(result.RootCause))
	}
	if result.RunbookRef != "" {
		fields = append(fields, "*Runbook:* "+result.RunbookRef)
	}
	if len(result.Notes) > 0 {
		fields = append(fields, fmt.Sprintf("*Degradations:* %d (see result notes)", len(result.Notes)))
	}
	if len(fields) > 0 {
		text := ""
		for i, f := range fields {
			if i > 0 {
				text += "\n"
			}
			text += f
		}
		blocks = append(blocks, goslack.NewContextBlock("",
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(text), false, false)))
	}

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength-1] + "…"
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '\n' {
			return text[:i+1]
		}
	}
	return truncateForSlack(text)
}
