package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSectionsStructuredFindings(t *testing.T) {
	got := extractSections(`Root Cause: Disk full on node-3.
Supporting Evidence:
- /var at 100%
- compaction backlog growing
Recommended Remediation: Expand the volume and re-enable compaction.`)

	assert.Equal(t, "Disk full on node-3.", got.rootCause)
	assert.Equal(t, "Expand the volume and re-enable compaction.", got.fix)
	assert.Equal(t, []string{"/var at 100%", "compaction backlog growing"}, got.evidence)
}

func TestExtractSectionsMarkdownDecoration(t *testing.T) {
	got := extractSections(`## Root Cause:
The deployment at 14:00 introduced a memory leak.

**Remediation:** Roll back to the previous release.`)

	assert.Contains(t, got.rootCause, "memory leak")
	assert.Contains(t, got.fix, "Roll back")
}

func TestExtractSectionsMultilineRootCause(t *testing.T) {
	got := extractSections(`Root Cause: The cache tier lost quorum
after two nodes rebooted simultaneously.
Evidence: reboot events in the node log`)

	assert.Contains(t, got.rootCause, "lost quorum")
	assert.Contains(t, got.rootCause, "rebooted simultaneously")
	assert.Equal(t, []string{"reboot events in the node log"}, got.evidence)
}

func TestExtractSectionsNoHeadings(t *testing.T) {
	got := extractSections("The service recovered on its own, probably a transient network blip.")

	assert.Empty(t, got.rootCause)
	assert.Empty(t, got.fix)
	assert.Nil(t, got.evidence)
}

func TestExtractSectionsNumberedEvidence(t *testing.T) {
	got := extractSections(`Evidence:
1. first clue
2) second clue`)

	assert.Equal(t, []string{"first clue", "second clue"}, got.evidence)
}

func TestExtractSectionsFirstSectionWins(t *testing.T) {
	got := extractSections(`Root Cause: the real one.
Root Cause: a hallucinated second opinion.`)

	assert.Equal(t, "the real one.", got.rootCause)
}
