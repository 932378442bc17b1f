package models

import "time"

// MemoryEpisode is a persisted past-incident summary. Episodes are
// append-only — there is no update or delete, preserving a complete
// audit history of past incidents. Embedding dimensionality is fixed
// per deployment and shared with query embeddings.
type MemoryEpisode struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Summary   string    `json:"summary"`
	Severity  Severity  `json:"severity"`
	RootCause string    `json:"root_cause"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// KnowledgePassage is a runbook chunk from the static corpus.
// Loaded at startup; read-only at runtime.
type KnowledgePassage struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Team      string    `json:"team,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
}
