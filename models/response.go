package models

import "time"

// Usage represents token usage statistics for a completed call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" bson:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" bson:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" bson:"total_tokens"`
}

// NormalizedResponse is the provider-agnostic representation of a completed
// call. Streaming responses are accumulated into this shape once the stream
// finishes.
type NormalizedResponse struct {
	// ID is the completion identifier assigned by the provider
	ID string `json:"id"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// Model that produced the completion
	Model string `json:"model"`

	// Content is the full completion text
	Content string `json:"content"`

	// FinishReason indicates why the completion finished
	// Values: "stop", "length", "content_filter"
	FinishReason string `json:"finish_reason"`

	// Usage statistics as reported by the provider
	Usage Usage `json:"usage"`

	// Latency of the upstream call
	Latency time.Duration `json:"latency"`

	// Created timestamp
	Created time.Time `json:"created"`
}

// ResponseChunk is one incremental delta of a streaming response. Chunks are
// delivered in provider order; the final chunk carries a non-empty
// FinishReason and, when the provider reports it, the accumulated Usage.
type ResponseChunk struct {
	// Content is the text delta, possibly empty on the final chunk
	Content string `json:"content,omitempty"`

	// FinishReason is set only on the final chunk
	FinishReason string `json:"finish_reason,omitempty"`

	// Usage is set on the final chunk when the provider reports it
	Usage *Usage `json:"usage,omitempty"`
}
