package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a ledgered call ended.
type Outcome string

const (
	// OutcomeCompleted marks a call that returned a full response.
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed marks a call that ended in an error before any
	// response content was delivered.
	OutcomeFailed Outcome = "failed"

	// OutcomePartial marks a streaming call that terminated before the
	// stream completed (client cancellation or mid-stream provider error).
	// Partial work is still billed and must remain auditable.
	OutcomePartial Outcome = "partial"
)

// LedgerRecord is the append-only audit/billing record of one provider call.
// Records are written once and never updated or deleted by this service.
type LedgerRecord struct {
	ID          uuid.UUID `json:"id" bson:"_id"`
	Fingerprint string    `json:"fingerprint" bson:"fingerprint"`
	Provider    string    `json:"provider" bson:"provider"`
	Model       string    `json:"model" bson:"model"`
	Usage       Usage     `json:"usage" bson:"usage"`

	// Cost is the estimated cost in USD derived from the model's pricing
	// and the reported token usage.
	Cost float64 `json:"cost" bson:"cost"`

	Outcome   Outcome   `json:"outcome" bson:"outcome"`
	LatencyMs int64     `json:"latency_ms" bson:"latency_ms"`
	Error     string    `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// NewLedgerRecord creates a record with a fresh ID and timestamp.
func NewLedgerRecord(fingerprint, provider, model string, outcome Outcome) *LedgerRecord {
	return &LedgerRecord{
		ID:          uuid.New(),
		Fingerprint: fingerprint,
		Provider:    provider,
		Model:       model,
		Outcome:     outcome,
		CreatedAt:   time.Now().UTC(),
	}
}
