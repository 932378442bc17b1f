package triage

import (
	"regexp"
	"strings"
)

// Findings come back as loosely structured prose. Extraction keys on
// the section headings the investigation prompts ask for, tolerating
// markdown decoration, and falls back to the whole text when the model
// ignored the structure — a triage result always carries a root cause
// statement, however unpolished.

var headingPattern = regexp.MustCompile(`^[#*\s>]*([A-Za-z][A-Za-z -]{0,40}?)[*\s]*:\s*(.*)$`)

var sectionAliases = map[string]string{
	"root cause":              "root_cause",
	"probable root cause":     "root_cause",
	"likely root cause":       "root_cause",
	"evidence":                "evidence",
	"supporting evidence":     "evidence",
	"remediation":             "fix",
	"recommended remediation": "fix",
	"recommended fix":         "fix",
	"recommendation":          "fix",
	"fix":                     "fix",
	"next steps":              "fix",
	"severity":                "severity",
	"summary":                 "summary",
}

type sections struct {
	rootCause string
	fix       string
	evidence  []string
}

// extractSections splits findings text on recognized headings.
func extractSections(text string) sections {
	var out sections
	current := ""
	var buf []string

	flush := func() {
		content := strings.TrimSpace(strings.Join(buf, "\n"))
		switch current {
		case "root_cause":
			if out.rootCause == "" {
				out.rootCause = content
			}
		case "fix":
			if out.fix == "" {
				out.fix = content
			}
		case "evidence":
			if out.evidence == nil {
				out.evidence = bulletItems(content)
			}
		}
		buf = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if canonical, rest, ok := matchHeading(line); ok {
			flush()
			current = canonical
			if rest != "" {
				buf = append(buf, rest)
			}
			continue
		}
		if current != "" {
			buf = append(buf, line)
		}
	}
	flush()
	return out
}

// matchHeading reports whether the line opens a known section.
func matchHeading(line string) (canonical, rest string, ok bool) {
	m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", "", false
	}
	canonical, known := sectionAliases[strings.ToLower(strings.TrimSpace(m[1]))]
	if !known {
		return "", "", false
	}
	return canonical, strings.TrimSpace(m[2]), true
}

// bulletItems splits section content into list items, tolerating
// -, *, and numbered markers. Unbulleted content is a single item.
func bulletItems(content string) []string {
	if content == "" {
		return nil
	}
	var items []string
	var plain []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if stripped, ok := stripBullet(trimmed); ok {
			items = append(items, stripped)
		} else {
			plain = append(plain, trimmed)
		}
	}
	if len(items) > 0 {
		return items
	}
	if len(plain) > 0 {
		return []string{strings.Join(plain, " ")}
	}
	return nil
}

var numberedBullet = regexp.MustCompile(`^\d+[.)]\s+`)

func stripBullet(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "- "):
		return strings.TrimSpace(line[2:]), true
	case strings.HasPrefix(line, "* "):
		return strings.TrimSpace(line[2:]), true
	case numberedBullet.MatchString(line):
		return strings.TrimSpace(numberedBullet.ReplaceAllString(line, "")), true
	}
	return "", false
}
