// Package openai implements the provider adapter for the OpenAI chat
// completions API. The same wire format is spoken by several other vendors;
// NewCompatible builds an adapter for those endpoints from a different
// catalog and base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds the static provider configuration.
type Config struct {
	// APIKey for authentication; treated as an opaque secret reference
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for the underlying HTTP client
	Timeout time.Duration
}

// Adapter implements providers.Adapter for the OpenAI wire format.
type Adapter struct {
	name       string
	config     Config
	httpClient *http.Client
	models     map[string]*providers.ModelInfo
}

// New creates the OpenAI adapter with its built-in model catalog.
func New(config Config) *Adapter {
	return NewCompatible("openai", config, defaultCatalog())
}

// NewCompatible creates an adapter for an OpenAI-compatible endpoint under
// a different provider name and model catalog.
func NewCompatible(name string, config Config, catalog map[string]*providers.ModelInfo) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Adapter{
		name:   name,
		config: config,
		httpClient: &http.Client{
			// Per-request deadlines come from the caller's context; the
			// client timeout is a hard backstop only. It must not cut
			// streams short, so it stays well above the request budget.
			Timeout: 10 * config.Timeout,
		},
		models: catalog,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return a.name
}

// Models returns all model identifiers this provider serves.
func (a *Adapter) Models() []string {
	names := make([]string, 0, len(a.models))
	for model := range a.models {
		names = append(names, model)
	}
	return names
}

// SupportsModel checks if a model is served by this provider.
func (a *Adapter) SupportsModel(model string) bool {
	_, ok := a.models[model]
	return ok
}

// ModelInfo returns catalog information about a specific model.
func (a *Adapter) ModelInfo(model string) (*providers.ModelInfo, error) {
	info, ok := a.models[model]
	if !ok {
		return nil, services.ErrModelNotFound
	}
	return info, nil
}

// Invoke performs a completion request.
func (a *Adapter) Invoke(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
	start := time.Now()

	httpResp, err := a.post(ctx, a.buildWireRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.ClassifyTransportError(a.name, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.classifyErrorBody(httpResp, body)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeServerError,
			a.name+" returned a malformed response", err).
			WithDetail("provider", a.name)
	}

	return a.normalize(&wire, time.Since(start)), nil
}

// InvokeStream performs a streaming completion request. Pre-stream failures
// (connect error, non-2xx status) return an error immediately; mid-stream
// failures are yielded through the iterator.
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

		for {
			if ctx.Err() != nil {
				yield(models.ResponseChunk{}, providers.ClassifyTransportError(a.name, ctx.Err()))
				return
			}

			event, err := scanner.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(models.ResponseChunk{}, providers.ClassifyTransportError(a.name, err))
				return
			}

			if event.Data == "[DONE]" {
				return
			}

			var wire wireStreamChunk
			if err := json.Unmarshal([]byte(event.Data), &wire); err != nil {
				yield(models.ResponseChunk{}, services.NewDomainError(services.ErrorTypeServerError,
					a.name+" sent a malformed stream chunk", err).
					WithDetail("provider", a.name))
				return
			}

			chunk := models.ResponseChunk{}
			if len(wire.Choices) > 0 {
				chunk.Content = wire.Choices[0].Delta.Content
				chunk.FinishReason = wire.Choices[0].FinishReason
			}
			if wire.Usage != nil {
				chunk.Usage = &models.Usage{
					PromptTokens:     wire.Usage.PromptTokens,
					CompletionTokens: wire.Usage.CompletionTokens,
					TotalTokens:      wire.Usage.TotalTokens,
				}
			}

			// Skip keep-alive chunks that carry nothing.
			if chunk.Content == "" && chunk.FinishReason == "" && chunk.Usage == nil {
				continue
			}

			if !yield(chunk, nil) {
				return
			}
		}
	}

	return providers.NewStream(a.name, req.Model, seq), nil
}

func (a *Adapter) post(ctx context.Context, wire *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidRequest,
			"failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidRequest,
			"failed to build request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.ClassifyTransportError(a.name, err)
	}
	return httpResp, nil
}

func (a *Adapter) buildWireRequest(req *models.NormalizedRequest, stream bool) *wireRequest {
	wire := &wireRequest{
		Model:    req.Model,
		Messages: make([]wireMessage, len(req.Messages)),
		Stream:   stream,
	}
	for i, msg := range req.Messages {
		wire.Messages[i] = wireMessage{Role: msg.Role, Content: msg.Content}
	}

	wire.Temperature = req.Params.Temperature
	wire.TopP = req.Params.TopP
	wire.MaxTokens = req.Params.MaxTokens
	wire.Stop = req.Params.Stop

	if stream {
		wire.StreamOptions = &wireStreamOptions{IncludeUsage: true}
	}

	return wire
}

func (a *Adapter) normalize(wire *wireResponse, latency time.Duration) *models.NormalizedResponse {
	resp := &models.NormalizedResponse{
		ID:       wire.ID,
		Provider: a.name,
		Model:    wire.Model,
		Usage: models.Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(wire.Created, 0).UTC(),
	}

	if len(wire.Choices) > 0 {
		resp.Content = wire.Choices[0].Message.Content
		resp.FinishReason = wire.Choices[0].FinishReason
	}

	return resp
}

func (a *Adapter) classifyErrorBody(httpResp *http.Response, body []byte) error {
	message := ""
	var wire wireErrorResponse
	if err := json.Unmarshal(body, &wire); err == nil {
		message = wire.Error.Message
	}

	domainErr := providers.ClassifyHTTPStatus(a.name, httpResp.StatusCode, message)
	if retryAfter := providers.RetryAfter(httpResp.Header); retryAfter > 0 {
		domainErr.WithDetail("retry_after", retryAfter.String())
	}
	return domainErr
}
