package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Message represents a single turn in a conversation.
type Message struct {
	// Role is "system", "user" or "assistant"
	Role string `json:"role"`

	// Content is the message text
	Content string `json:"content"`
}

// Parameters holds the sampling parameters of a request. Nil pointer fields
// mean "provider default"; a nil value and an explicit zero produce different
// fingerprints because they can produce different output.
type Parameters struct {
	Temperature *float64 `json:"temperature"`
	TopP        *float64 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// NormalizedRequest is the provider-agnostic representation of a completion
// request. It is immutable once constructed: routing, caching and adapters
// only read it.
type NormalizedRequest struct {
	// Provider is an optional routing hint naming a specific provider.
	// The router falls back to the priority order when the hinted provider
	// is unhealthy or does not support the model.
	Provider string `json:"provider,omitempty"`

	// Model identifier (e.g., "gpt-4o", "claude-3-5-sonnet-latest")
	Model string `json:"model"`

	// Messages in the conversation, in order
	Messages []Message `json:"messages"`

	// Params are the sampling parameters
	Params Parameters `json:"params"`

	// Stream requests an incremental chunk response
	Stream bool `json:"stream,omitempty"`

	// NoCache bypasses the response cache for this request
	NoCache bool `json:"no_cache,omitempty"`
}

// fingerprintPayload fixes the set and order of response-affecting fields.
// Stream and NoCache are excluded: they change delivery, not content. The
// provider hint is included because it pins which provider answers, and
// provider identity is part of the response.
type fingerprintPayload struct {
	Provider string     `json:"provider"`
	Model    string     `json:"model"`
	Messages []Message  `json:"messages"`
	Params   Parameters `json:"params"`
}

// Fingerprint returns the deterministic cache/ledger identity of the request:
// the SHA-256 hex digest of a canonical JSON encoding of every field that can
// affect the response. Two requests with identical model, messages and
// parameters always produce equal fingerprints.
func (r *NormalizedRequest) Fingerprint() string {
	payload := fingerprintPayload{
		Provider: r.Provider,
		Model:    r.Model,
		Messages: r.Messages,
		Params:   r.Params,
	}

	// Struct fields marshal in declaration order, so the encoding is
	// canonical without sorting.
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshalling plain strings and numbers cannot fail.
		panic("models: fingerprint marshal: " + err.Error())
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
