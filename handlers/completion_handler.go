// Package handlers implements the HTTP surface of the gateway. Handlers
// stay thin: decode, delegate to a service, encode.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services/providers"
	"github.com/normalman743/apiforward/utils"
)

// CompletionRequest is the request body for POST /v1/completions.
type CompletionRequest struct {
	Model    string              `json:"model" validate:"required"`
	Messages []CompletionMessage `json:"messages" validate:"required,min=1,dive"`

	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int     `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Stop        []string `json:"stop,omitempty" validate:"omitempty,max=4"`

	Provider string `json:"provider,omitempty" validate:"omitempty,oneof=openai anthropic xai"`
	Stream   bool   `json:"stream,omitempty"`
	NoCache  bool   `json:"no_cache,omitempty"`
}

// CompletionMessage is one conversation turn.
type CompletionMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionResponse is the non-streaming response body.
type CompletionResponse struct {
	ID           string       `json:"id"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Content      string       `json:"content"`
	FinishReason string       `json:"finish_reason"`
	Usage        models.Usage `json:"usage"`
	LatencyMs    int64        `json:"latency_ms"`
	Created      time.Time    `json:"created"`
}

// StreamChunk is one SSE data payload for streaming responses.
type StreamChunk struct {
	Content      string        `json:"content,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *models.Usage `json:"usage,omitempty"`
}

// CompletionService routes normalized requests to providers.
type CompletionService interface {
	Route(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error)
	RouteStream(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error)
}

// CompletionHandler handles completion HTTP requests.
type CompletionHandler struct {
	router   CompletionService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewCompletionHandler creates a new CompletionHandler.
func NewCompletionHandler(router CompletionService, logger *zap.Logger) *CompletionHandler {
	return &CompletionHandler{
		router:   router,
		validate: validator.New(),
		logger:   logger,
	}
}

// HandleCompletion handles POST /v1/completions.
func (h *CompletionHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var body CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}

	if err := h.validate.Struct(&body); err != nil {
		_ = utils.WriteBadRequest(w, "request validation failed", map[string]interface{}{
			"validation": err.Error(),
		})
		return
	}

	req := h.normalize(&body)

	if body.Stream {
		h.stream(w, r, req)
		return
	}

	resp, err := h.router.Route(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, CompletionResponse{
		ID:           resp.ID,
		Provider:     resp.Provider,
		Model:        resp.Model,
		Content:      resp.Content,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		LatencyMs:    resp.Latency.Milliseconds(),
		Created:      resp.Created,
	})
}

// stream writes the response as server-sent events terminated by [DONE].
// Errors that occur before the first chunk map to normal HTTP statuses;
// once chunks have been written the error is delivered as a final event.
func (h *CompletionHandler) stream(w http.ResponseWriter, r *http.Request, req *models.NormalizedRequest) {
	stream, err := h.router.RouteStream(r.Context(), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = utils.WriteInternalError(w, "streaming is not supported by this server")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk, err := range stream.Chunks() {
		if err != nil {
			h.writeStreamError(w, err)
			flusher.Flush()
			return
		}

		payload, err := json.Marshal(StreamChunk{
			Content:      chunk.Content,
			FinishReason: chunk.FinishReason,
			Usage:        chunk.Usage,
		})
		if err != nil {
			h.logger.Error("failed to encode stream chunk", zap.Error(err))
			return
		}

		if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
			// The client went away; abandoning the iterator settles the
			// accounting as partial.
			h.logger.Debug("client disconnected mid-stream", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

func (h *CompletionHandler) writeStreamError(w http.ResponseWriter, cause error) {
	payload, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		return
	}
	_, _ = w.Write(append(append([]byte("data: "), payload...), '\n', '\n'))
}

func (h *CompletionHandler) normalize(body *CompletionRequest) *models.NormalizedRequest {
	messages := make([]models.Message, len(body.Messages))
	for i, msg := range body.Messages {
		messages[i] = models.Message{Role: msg.Role, Content: msg.Content}
	}

	return &models.NormalizedRequest{
		Provider: body.Provider,
		Model:    body.Model,
		Messages: messages,
		Params: models.Parameters{
			Temperature: body.Temperature,
			TopP:        body.TopP,
			MaxTokens:   body.MaxTokens,
			Stop:        body.Stop,
		},
		Stream:  body.Stream,
		NoCache: body.NoCache,
	}
}
