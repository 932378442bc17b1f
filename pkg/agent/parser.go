package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/incidentkit/incidentkit/pkg/tools"
)

// ParsedResponse is the result of decoding a plain-text model response
// in the Thought / Action / Action Input / Final Answer marker format.
// Native tool calls are the primary contract; this parser is the
// fallback for providers and turns that answer in text.
type ParsedResponse struct {
	// Reasoning text preceding an action or final answer.
	Thought string

	// Action fields (populated when the model wants to call a tool).
	HasAction   bool
	Action      string // tool name
	ActionInput string // raw argument text

	// Final answer (populated when the model concludes).
	IsFinalAnswer bool
	FinalAnswer   string

	// Response matched neither an action nor a final answer.
	IsMalformed bool

	// Which markers were detected, for targeted format feedback.
	FoundSections map[string]bool
}

// Matches a sentence ending followed by a marker that leaked onto the
// same line as reasoning text.
var (
	midlineFinalAnswerPattern = regexp.MustCompile(`[.!?][\x60\s*]*Final Answer:`)
	recoverActionPattern      = regexp.MustCompile(`(?i)\bAction:`)
	recoverActionInputPattern = regexp.MustCompile(`(?i)Action Input:`)
	bareToolNamePattern       = regexp.MustCompile(`^[\w\-.]+$`)
)

// ParseResponse decodes model text into a structured response. The
// parser is intentionally forgiving: it tries several detection
// strategies before declaring the response malformed, because a
// recovered response is one fewer wasted iteration.
func ParseResponse(text string) *ParsedResponse {
	sections := extractSections(text)

	found := map[string]bool{
		"thought":      sections["thought"] != nil,
		"action":       sections["action"] != nil,
		"action_input": sections["action_input"] != nil,
		"final_answer": sections["final_answer"] != nil,
	}

	action := strings.TrimSpace(deref(sections["action"]))

	// When both an action and a final answer appear, the action wins:
	// a final answer is terminal, so anything after it is hallucinated
	// continuation, while an action before it still needs an observation.
	if action != "" {
		return &ParsedResponse{
			HasAction:     true,
			Thought:       deref(sections["thought"]),
			Action:        action,
			ActionInput:   deref(sections["action_input"]),
			FoundSections: found,
		}
	}

	if answer := strings.TrimSpace(deref(sections["final_answer"])); answer != "" {
		return &ParsedResponse{
			IsFinalAnswer: true,
			Thought:       deref(sections["thought"]),
			FinalAnswer:   answer,
			FoundSections: found,
		}
	}

	return &ParsedResponse{
		IsMalformed:   true,
		Thought:       deref(sections["thought"]),
		FoundSections: found,
	}
}

// HasMarkers reports whether any recognized section marker was found.
// A marker-free text response is a plain conclusion, not a format error.
func (p *ParsedResponse) HasMarkers() bool {
	for _, present := range p.FoundSections {
		if present {
			return true
		}
	}
	return false
}

// extractSections runs a line-by-line state machine over the response,
// accumulating content under the most recently seen marker.
func extractSections(text string) map[string]*string {
	parsed := map[string]*string{
		"thought":      nil,
		"action":       nil,
		"action_input": nil,
		"final_answer": nil,
	}

	var currentSection string
	var contentLines []string
	seen := map[string]bool{}

	for _, rawLine := range strings.Split(strings.TrimSpace(text), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" && currentSection == "" {
			continue
		}

		// The model sometimes hallucinates the system's own observation
		// turn; everything after it is fiction.
		if strings.HasPrefix(line, "Observation:") {
			finalizeSection(parsed, currentSection, contentLines)
			break
		}

		switch {
		case !seen["final_answer"] && strings.HasPrefix(line, "Final Answer:"):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "final_answer"
			seen["final_answer"] = true
			contentLines = []string{sectionContent(line, "Final Answer:")}

		case strings.HasPrefix(line, "Thought:") || line == "Thought":
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "thought"
			seen["thought"] = true
			contentLines = nil
			if content := sectionContent(line, "Thought:"); content != "" {
				contentLines = splitMidlineFinalAnswer(parsed, seen, content, &currentSection)
			}

		case strings.HasPrefix(line, "Action:"):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action"
			seen["action"] = true
			contentLines = []string{sectionContent(line, "Action:")}

		case strings.HasPrefix(line, "Action Input:"):
			finalizeSection(parsed, currentSection, contentLines)
			currentSection = "action_input"
			seen["action_input"] = true
			contentLines = []string{sectionContent(line, "Action Input:")}

		case currentSection == "thought" && !seen["final_answer"] && midlineFinalAnswerPattern.MatchString(line):
			loc := midlineFinalAnswerPattern.FindStringIndex(line)
			if before := strings.TrimSpace(line[:loc[0]+1]); before != "" {
				contentLines = append(contentLines, before)
			}
			finalizeSection(parsed, "thought", contentLines)
			answer := strings.TrimSpace(line[strings.Index(line, "Final Answer:")+len("Final Answer:"):])
			currentSection = "final_answer"
			seen["final_answer"] = true
			contentLines = []string{answer}

		case currentSection != "":
			contentLines = append(contentLines, line)
		}
	}
	finalizeSection(parsed, currentSection, contentLines)

	// Recovery: an Action Input without an Action usually means the
	// marker's colon or line break was mangled. Backtrack for it.
	if parsed["action_input"] != nil && parsed["action"] == nil {
		if recovered := recoverMissingAction(text); recovered != "" {
			parsed["action"] = &recovered
		}
	}

	return parsed
}

// splitMidlineFinalAnswer handles "reasoning text. Final Answer: ..."
// collapsed onto one line: the text before the marker stays thought
// content, the rest starts the final answer section.
func splitMidlineFinalAnswer(parsed map[string]*string, seen map[string]bool, line string, currentSection *string) []string {
	loc := midlineFinalAnswerPattern.FindStringIndex(line)
	if loc == nil {
		return []string{line}
	}
	if before := strings.TrimSpace(line[:loc[0]+1]); before != "" {
		finalizeSection(parsed, "thought", []string{before})
	}
	answer := strings.TrimSpace(line[strings.Index(line, "Final Answer:")+len("Final Answer:"):])
	seen["final_answer"] = true
	*currentSection = "final_answer"
	return []string{answer}
}

func recoverMissingAction(text string) string {
	loc := recoverActionInputPattern.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	matches := recoverActionPattern.FindAllStringIndex(text[:loc[0]], -1)
	if len(matches) == 0 {
		return ""
	}
	last := matches[len(matches)-1]
	candidate := strings.TrimSpace(strings.SplitN(text[last[1]:loc[0]], "\n", 2)[0])
	if bareToolNamePattern.MatchString(candidate) {
		return candidate
	}
	return ""
}

func sectionContent(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx == -1 {
		return ""
	}
	return strings.TrimSpace(line[idx+len(prefix):])
}

func finalizeSection(parsed map[string]*string, section string, contentLines []string) {
	if section == "" || contentLines == nil {
		return
	}
	content := strings.TrimSpace(strings.Join(contentLines, "\n"))
	if content != "" || parsed[section] == nil {
		parsed[section] = &content
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// FormatErrorFeedback describes what is wrong with a malformed response
// so the model can self-correct on the next iteration.
func FormatErrorFeedback(parsed *ParsedResponse) string {
	found := parsed.FoundSections

	var specific string
	switch {
	case found["action"] && !found["action_input"]:
		specific = "FORMAT ERROR: Your response has \"Action:\" but is missing \"Action Input:\".\n" +
			"Every \"Action:\" MUST be followed by \"Action Input:\" (even if empty for no-parameter tools)."
	case found["action_input"] && !found["action"]:
		specific = "FORMAT ERROR: Your response has \"Action Input:\" but is missing \"Action:\".\n" +
			"\"Action Input:\" must be preceded by \"Action:\" naming the tool to call."
	case found["thought"] && !found["action"] && !found["final_answer"]:
		specific = "FORMAT ERROR: Your response only contains \"Thought:\".\n" +
			"After reasoning, you MUST either call a tool with \"Action:\" + \"Action Input:\" " +
			"or conclude with \"Final Answer:\"."
	default:
		specific = "FORMAT ERROR: Could not detect any recognizable sections in your response.\n" +
			"Use the exact markers \"Thought:\", \"Action:\", \"Action Input:\", and \"Final Answer:\"."
	}

	return specific + `

Required structure for investigation:
Thought: [your reasoning]
Action: [tool name]
Action Input: [parameters as JSON]

Required structure for conclusion:
Thought: [final reasoning]
Final Answer: [complete analysis]`
}

// FormatObservation renders a tool result as an observation turn.
func FormatObservation(result *tools.Result) string {
	if result == nil {
		return "Observation: Error - no tool result available"
	}
	if result.IsError {
		return fmt.Sprintf("Observation: Error executing %s: %s", result.Tool, result.Content)
	}
	return fmt.Sprintf("Observation: %s", result.Content)
}

// FormatUnknownToolError tells the model which tools actually exist.
func FormatUnknownToolError(toolName string, available []tools.Spec) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Observation: Error - unknown tool '%s'.", toolName)
	if len(available) == 0 {
		sb.WriteString("\n\nNo tools are currently available.")
		return sb.String()
	}
	sb.WriteString("\n\nAvailable tools:\n")
	for _, spec := range available {
		fmt.Fprintf(&sb, "  - %s: %s\n", spec.Name, spec.Description)
	}
	return sb.String()
}

// FormatCallErrorObservation renders a model-call failure so the next
// iteration can retry with context.
func FormatCallErrorObservation(err error) string {
	return fmt.Sprintf("Observation: Error from previous attempt: %s. Please try again.", err)
}
