// Package anthropic implements the provider adapter for the Anthropic
// messages API.
package anthropic

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

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; used when the caller leaves it unset.
	defaultMaxTokens = 4096
)

// Config holds the static provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Adapter implements providers.Adapter for the Anthropic messages API.
type Adapter struct {
	config     Config
	httpClient *http.Client
	models     map[string]*providers.ModelInfo
}

// New creates the Anthropic adapter.
func New(config Config) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &Adapter{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * config.Timeout,
		},
		models: defaultCatalog(),
	}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "anthropic"
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
		return nil, providers.ClassifyTransportError("anthropic", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.classifyErrorBody(httpResp, body)
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeServerError,
			"anthropic returned a malformed response", err).
			WithDetail("provider", "anthropic")
	}

	return a.normalize(&wire, time.Since(start)), nil
}

func (a *Adapter) post(ctx context.Context, wire *wireRequest) (*http.Response, error) {
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidRequest,
			"failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.config.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeInvalidRequest,
			"failed to build request", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.ClassifyTransportError("anthropic", err)
	}
	return httpResp, nil
}

// buildWireRequest converts a normalized request to the messages API shape.
// System messages are hoisted into the top-level system field; the messages
// array must alternate user and assistant roles only.
func (a *Adapter) buildWireRequest(req *models.NormalizedRequest, stream bool) *wireRequest {
	wire := &wireRequest{
		Model:     req.Model,
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += msg.Content
			continue
		}
		wire.Messages = append(wire.Messages, wireMessage{Role: msg.Role, Content: msg.Content})
	}

	wire.Temperature = req.Params.Temperature
	wire.TopP = req.Params.TopP
	if req.Params.MaxTokens != nil {
		wire.MaxTokens = *req.Params.MaxTokens
	}
	wire.StopSequences = req.Params.Stop

	return wire
}

func (a *Adapter) normalize(wire *wireResponse, latency time.Duration) *models.NormalizedResponse {
	resp := &models.NormalizedResponse{
		ID:           wire.ID,
		Provider:     "anthropic",
		Model:        wire.Model,
		FinishReason: normalizeStopReason(wire.StopReason),
		Usage: models.Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
		Latency: latency,
		Created: time.Now().UTC(),
	}

	for _, block := range wire.Content {
		if block.Type == "text" {
			resp.Content += block.Text
		}
	}

	return resp
}

// normalizeStopReason maps Anthropic stop reasons onto the finish reasons
// the rest of the gateway uses.
func normalizeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func (a *Adapter) classifyErrorBody(httpResp *http.Response, body []byte) error {
	message := ""
	var wire wireErrorResponse
	if err := json.Unmarshal(body, &wire); err == nil {
		message = wire.Error.Message
	}

	// The messages API signals overload with 529 in addition to 5xx.
	status := httpResp.StatusCode
	if status == 529 {
		status = http.StatusServiceUnavailable
	}

	domainErr := providers.ClassifyHTTPStatus("anthropic", status, message)
	if retryAfter := providers.RetryAfter(httpResp.Header); retryAfter > 0 {
		domainErr.WithDetail("retry_after", retryAfter.String())
	}
	return domainErr
}
