package providers

import (
	"iter"
	"strings"
	"time"

	"github.com/normalman743/apiforward/models"
)

// Stream is a forward-only lazy sequence of response chunks. It is not
// resumable: a dropped stream must be restarted from scratch if retried at
// all.
//
// Callers must consume the stream, either by ranging over Chunks (breaking
// out early is allowed) or by calling Collect. The producing adapter holds
// the HTTP response body open until the iterator completes or is abandoned
// via a loop break; an unconsumed Stream leaks that connection.
type Stream struct {
	// Provider and Model identify the upstream that produced the stream.
	Provider string
	Model    string

	seq iter.Seq2[models.ResponseChunk, error]
}

// NewStream wraps a raw chunk iterator. The iterator yields chunks with a
// nil error for normal deltas and a non-nil error exactly once to signal a
// mid-stream failure, after which it must stop.
func NewStream(provider, model string, seq iter.Seq2[models.ResponseChunk, error]) *Stream {
	return &Stream{Provider: provider, Model: model, seq: seq}
}

// SingleChunkStream delivers an already-complete response as a one-chunk
// stream followed by the final marker. Used to serve cache hits to streaming
// callers.
func SingleChunkStream(resp *models.NormalizedResponse) *Stream {
	usage := resp.Usage
	return NewStream(resp.Provider, resp.Model, func(yield func(models.ResponseChunk, error) bool) {
		if resp.Content != "" {
			if !yield(models.ResponseChunk{Content: resp.Content}, nil) {
				return
			}
		}
		yield(models.ResponseChunk{FinishReason: resp.FinishReason, Usage: &usage}, nil)
	})
}

// Chunks returns the underlying iterator.
func (s *Stream) Chunks() iter.Seq2[models.ResponseChunk, error] {
	return s.seq
}

// Collect drains the stream and accumulates all deltas into a complete
// NormalizedResponse. On a mid-stream error the partial accumulation is
// discarded and the error returned.
func (s *Stream) Collect() (*models.NormalizedResponse, error) {
	start := time.Now()

	var content strings.Builder
	resp := &models.NormalizedResponse{
		Provider: s.Provider,
		Model:    s.Model,
		Created:  start.UTC(),
	}

	for chunk, err := range s.seq {
		if err != nil {
			return nil, err
		}
		content.WriteString(chunk.Content)
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
	}

	resp.Content = content.String()
	resp.Latency = time.Since(start)
	return resp, nil
}
