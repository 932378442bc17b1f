// Package models defines the shared data types for the triage engine.
// Types here are plain data — behavior lives in the packages that own them.
package models

import "time"

// Alert is an externally generated monitoring signal. It is created by the
// upstream monitoring system and is read-only inside the engine.
type Alert struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	RawSeverity string            `json:"raw_severity"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels,omitempty"`
	Value       *float64          `json:"value,omitempty"`
}

// Fingerprint returns a short human-readable identity for logging.
func (a Alert) Fingerprint() string {
	if a.Service == "" {
		return a.Name
	}
	return a.Name + "/" + a.Service
}
