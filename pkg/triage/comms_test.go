package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommunicationsAllMarkers(t *testing.T) {
	comms, ok := parseCommunications(`OPERATIONAL BRIEF
Restart the pooler.

ENGINEERING DETAIL
Pool exhausted, 42 refused connections.

MANAGEMENT SUMMARY
Payments degraded, fix underway.`)

	assert.True(t, ok)
	assert.Equal(t, "Restart the pooler.", comms.OperationalBrief)
	assert.Equal(t, "Pool exhausted, 42 refused connections.", comms.EngineeringDetail)
	assert.Equal(t, "Payments degraded, fix underway.", comms.ManagementSummary)
}

func TestParseCommunicationsToleratesDecoration(t *testing.T) {
	comms, ok := parseCommunications(`## OPERATIONAL BRIEF
ops text

**ENGINEERING DETAIL**
eng text

### MANAGEMENT SUMMARY:
mgmt text`)

	assert.True(t, ok)
	assert.Equal(t, "ops text", comms.OperationalBrief)
	assert.Equal(t, "eng text", comms.EngineeringDetail)
	assert.Equal(t, "mgmt text", comms.ManagementSummary)
}

func TestParseCommunicationsMissingMarker(t *testing.T) {
	_, ok := parseCommunications(`OPERATIONAL BRIEF
ops text

ENGINEERING DETAIL
eng text`)

	assert.False(t, ok)
}

func TestParseCommunicationsDuplicateMarkerFirstWins(t *testing.T) {
	comms, ok := parseCommunications(`OPERATIONAL BRIEF
first ops

MANAGEMENT SUMMARY
mgmt

ENGINEERING DETAIL
eng

OPERATIONAL BRIEF
second ops`)

	assert.True(t, ok)
	assert.Equal(t, "first ops", comms.OperationalBrief)
}

func TestParseCommunicationsEmptySection(t *testing.T) {
	_, ok := parseCommunications(`OPERATIONAL BRIEF

ENGINEERING DETAIL
eng

MANAGEMENT SUMMARY
mgmt`)

	assert.False(t, ok)
}
