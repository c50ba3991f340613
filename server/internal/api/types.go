package api

import (
	"github.com/obsidianstack/alertengine/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"` // RFC3339
}

// AlertResponse is the payload for GET .../alerts/{id}.
type AlertResponse struct {
	*types.Alert
	NextEscalation *PendingEscalation `json:"next_escalation,omitempty"`
	Diagnostics    []DiagnosticHint   `json:"diagnostics"`
}

// PendingEscalation is the armed escalation timer of an OPEN alert.
type PendingEscalation struct {
	Level int    `json:"level"`
	Due   string `json:"due"` // RFC3339
}

// EvaluateResponse is the payload for POST .../evaluate.
type EvaluateResponse struct {
	Workspace string   `json:"workspace"`
	Errors    []string `json:"errors,omitempty"`
}

type ackRequest struct {
	User string `json:"user"`
}

type resolveRequest struct {
	User  string `json:"user"`
	Notes string `json:"notes"`
}

type testRuleRequest struct {
	Condition types.Condition `json:"condition"`
	Samples   types.Window    `json:"samples"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
