// Package classifier assigns a coarse severity and category to a raw
// alert with a single fast model call. It never blocks the pipeline:
// any model or parse failure degrades to the safe default
// classification with zero confidence.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
)

const systemInstruction = `You are an SRE triage classifier. Given a monitoring alert, assess it and respond with ONLY a JSON object, no prose:
{
  "severity": "critical" | "high" | "medium" | "low",
  "category": "infrastructure" | "application" | "database" | "network" | "capacity" | "security" | "unknown",
  "user_scope": "none" | "isolated" | "partial" | "widespread" | "unknown",
  "confidence": <0.0-1.0>,
  "rationale": "<one sentence>"
}`

// Classifier performs the single-call alert classification.
type Classifier struct {
	client llm.Client
	logger *slog.Logger
}

// New creates a classifier around the given model client.
func New(client llm.Client) *Classifier {
	return &Classifier{
		client: client,
		logger: slog.Default().With("component", "classifier"),
	}
}

// Classify renders the alert into the instruction template, requests a
// structured result, and parses it. Returns the classification plus
// token usage for budget charging. Never returns an error — failures
// fall back to the default classification.
func (c *Classifier) Classify(ctx context.Context, alert models.Alert) (models.Classification, llm.Usage) {
	resp, err := c.client.Complete(ctx, &llm.Request{
		System: systemInstruction,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: renderAlert(alert)},
		},
		MaxTokens: 512,
	})
	if err != nil {
		c.logger.Warn("Classification call failed, using default", "alert", alert.Fingerprint(), "error", err)
		return applyFloor(models.DefaultClassification(), alert), llm.Usage{}
	}

	classification, parseErr := parseClassification(resp.Text)
	if parseErr != nil {
		c.logger.Warn("Classification output unparsable, using default",
			"alert", alert.Fingerprint(), "error", parseErr)
		return applyFloor(models.DefaultClassification(), alert), resp.Usage
	}
	return applyFloor(classification, alert), resp.Usage
}

func renderAlert(alert models.Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Alert: %s\nService: %s\nReported severity: %s\nMessage: %s\n",
		alert.Name, alert.Service, alert.RawSeverity, alert.Message)
	if alert.Value != nil {
		fmt.Fprintf(&sb, "Value: %g\n", *alert.Value)
	}
	for k, v := range alert.Labels {
		fmt.Fprintf(&sb, "Label %s: %s\n", k, v)
	}
	return sb.String()
}

// classificationJSON mirrors the model's output contract.
type classificationJSON struct {
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
	UserScope  string  `json:"user_scope"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// parseClassification decodes the model's JSON, tolerating markdown
// code fences and surrounding prose around the object.
func parseClassification(text string) (models.Classification, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return models.Classification{}, fmt.Errorf("no JSON object in output")
	}

	var parsed classificationJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.Classification{}, fmt.Errorf("decode classification: %w", err)
	}

	severity := models.Severity(strings.ToLower(parsed.Severity))
	if !severity.Valid() {
		return models.Classification{}, fmt.Errorf("invalid severity %q", parsed.Severity)
	}
	category := models.Category(strings.ToLower(parsed.Category))
	if !category.Valid() {
		category = models.CategoryUnknown
	}
	scope := models.UserScope(strings.ToLower(parsed.UserScope))
	switch scope {
	case models.ScopeNone, models.ScopeIsolated, models.ScopePartial, models.ScopeWidespread, models.ScopeUnknown:
	default:
		scope = models.ScopeUnknown
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return models.Classification{
		Severity:   severity,
		Category:   category,
		UserScope:  scope,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(parsed.Rationale),
	}, nil
}

// extractJSONObject returns the first top-level {...} span in text.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// applyFloor prevents the classification from downgrading below what
// the alert's own reported severity implies. A critical page that the
// model calls "low" would silently skip the thorough investigation path.
func applyFloor(c models.Classification, alert models.Alert) models.Classification {
	var floor models.Severity
	switch strings.ToLower(alert.RawSeverity) {
	case "critical", "page", "p1":
		floor = models.SeverityHigh
	case "error", "major", "p2":
		floor = models.SeverityMedium
	default:
		return c
	}
	if floor.Rank() > c.Severity.Rank() {
		c.Severity = floor
	}
	return c
}
