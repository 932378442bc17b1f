package triage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/incidentkit/incidentkit/pkg/budget"
	"github.com/incidentkit/incidentkit/pkg/llm"
	"github.com/incidentkit/incidentkit/pkg/models"
)

// The rendering contract: one synthesis call, three fixed markers. The
// parser keys on the markers, so the prompt repeats them verbatim.
const (
	markerOperational = "OPERATIONAL BRIEF"
	markerEngineering = "ENGINEERING DETAIL"
	markerManagement  = "MANAGEMENT SUMMARY"
)

const commsPromptTemplate = `Render the incident analysis below into three stakeholder variants. Use EXACTLY these three section markers, each on its own line, in this order:

%s
<2-4 sentences for the on-call responder: what is broken, current impact, immediate next action>

%s
<technical detail for the owning engineers: root cause, evidence, remediation steps>

%s
<2-3 non-technical sentences for leadership: customer impact, status, expected resolution>

Incident: %s (service %s, severity %s)

Analysis:
%s`

var commsMarkerPattern = regexp.MustCompile(`(?m)^[#*\s]*(OPERATIONAL BRIEF|ENGINEERING DETAIL|MANAGEMENT SUMMARY)[:\s*]*$`)

// renderCommunications makes the communications model call and decodes
// the three variants. On any failure the raw findings become all three
// variants — stakeholders get unpolished truth over nothing.
func (o *Orchestrator) renderCommunications(ctx context.Context, alert models.Alert, classification models.Classification, findings string, governor *budget.Governor, result *models.TriageResult) models.Communications {
	fallback := models.Communications{
		OperationalBrief:  findings,
		EngineeringDetail: findings,
		ManagementSummary: findings,
	}
	if strings.TrimSpace(findings) == "" {
		return models.Communications{}
	}

	prompt := fmt.Sprintf(commsPromptTemplate,
		markerOperational, markerEngineering, markerManagement,
		alert.Name, alert.Service, classification.Severity, findings)

	resp, err := o.client.Complete(ctx, &llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: o.cfg.MaxTokensPerCall,
	})
	if err != nil {
		o.logger.Warn("Communications call failed, using raw findings", "error", err)
		result.Notes = append(result.Notes, "communications rendering unavailable, raw findings used for all variants")
		return fallback
	}
	o.chargeGovernor(governor, resp.Usage)

	comms, ok := parseCommunications(resp.Text)
	if !ok {
		result.Notes = append(result.Notes, "communications output missing section markers, raw findings used for all variants")
		return fallback
	}
	return comms
}

// parseCommunications splits the response on the three markers. All
// three must be present; a partial render is treated as a failed one.
func parseCommunications(text string) (models.Communications, bool) {
	matches := commsMarkerPattern.FindAllStringSubmatchIndex(text, -1)
	sections := map[string]string{}
	for i, match := range matches {
		name := text[match[2]:match[3]]
		if _, dup := sections[name]; dup {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections[name] = strings.TrimSpace(text[match[1]:end])
	}

	comms := models.Communications{
		OperationalBrief:  sections[markerOperational],
		EngineeringDetail: sections[markerEngineering],
		ManagementSummary: sections[markerManagement],
	}
	if comms.OperationalBrief == "" || comms.EngineeringDetail == "" || comms.ManagementSummary == "" {
		return models.Communications{}, false
	}
	return comms, true
}
