package domain

import (
	"encoding/json"
	"time"
)

// Diagnostic kinds.
const (
	DiagKindValidation = "validation"
	DiagKindNoMatch    = "not_found"
)

// Diagnostic is one append-only entry in the diagnostics log: the input
// that failed, which component it failed in, and the full failure detail.
// Recording diagnostics is best-effort and never blocks a response.
type Diagnostic struct {
	ID        string          `json:"id"`
	Component string          `json:"component"` // "assignment", "rating", ...
	Kind      string          `json:"kind"`
	Input     json.RawMessage `json:"input"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}
