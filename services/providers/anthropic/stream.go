package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/providers"
)

// InvokeStream performs a streaming completion request. The messages API
// emits a typed event lifecycle: message_start carries input token usage,
// content_block_delta events carry text, message_delta carries the stop
// reason and output token usage, and message_stop closes the stream.
func (a *Adapter) InvokeStream(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
	httpResp, err := a.post(ctx, a.buildWireRequest(req, true))
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, a.classifyErrorBody(httpResp, body)
	}

	scanner := providers.NewSSEScanner(httpResp.Body)

	seq := func(yield func(models.ResponseChunk, error) bool) {
		defer httpResp.Body.Close()

		var promptTokens int
		var stopReason string
		var outputTokens int

		for {
			if ctx.Err() != nil {
				yield(models.ResponseChunk{}, providers.ClassifyTransportError("anthropic", ctx.Err()))
				return
			}

			event, err := scanner.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(models.ResponseChunk{}, providers.ClassifyTransportError("anthropic", err))
				return
			}

			switch event.Name {
			case "message_start":
				var wire wireStreamMessageStart
				if err := json.Unmarshal([]byte(event.Data), &wire); err == nil {
					promptTokens = wire.Message.Usage.InputTokens
				}

			case "content_block_delta":
				var wire wireStreamContentDelta
				if err := json.Unmarshal([]byte(event.Data), &wire); err != nil {
					yield(models.ResponseChunk{}, services.NewDomainError(services.ErrorTypeServerError,
						"anthropic sent a malformed stream chunk", err).
						WithDetail("provider", "anthropic"))
					return
				}
				if wire.Delta.Type != "text_delta" || wire.Delta.Text == "" {
					continue
				}
				if !yield(models.ResponseChunk{Content: wire.Delta.Text}, nil) {
					return
				}

			case "message_delta":
				var wire wireStreamMessageDelta
				if err := json.Unmarshal([]byte(event.Data), &wire); err == nil {
					stopReason = wire.Delta.StopReason
					outputTokens = wire.Usage.OutputTokens
				}

			case "message_stop":
				final := models.ResponseChunk{
					FinishReason: normalizeStopReason(stopReason),
					Usage: &models.Usage{
						PromptTokens:     promptTokens,
						CompletionTokens: outputTokens,
						TotalTokens:      promptTokens + outputTokens,
					},
				}
				yield(final, nil)
				return

			case "error":
				var wire wireStreamError
				message := "stream error"
				if err := json.Unmarshal([]byte(event.Data), &wire); err == nil && wire.Error.Message != "" {
					message = wire.Error.Message
				}
				yield(models.ResponseChunk{}, services.NewDomainError(services.ErrorTypeServerError,
					message, services.ErrServerError).
					WithDetail("provider", "anthropic"))
				return

			case "ping", "content_block_start", "content_block_stop":
				// Lifecycle noise with no content.

			default:
				// Unknown event types are forward compatible; skip them.
			}
		}
	}

	return providers.NewStream("anthropic", req.Model, seq), nil
}
