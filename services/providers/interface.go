package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
)

// Adapter is the uniform capability contract every vendor implements.
// Adapters translate a NormalizedRequest into the vendor wire format and
// normalize the vendor response (or stream) back. They do shape translation
// and status-code classification only; retry, caching and circuit policy
// belong to the resiliency and routing layers, never duplicated per vendor.
type Adapter interface {
	// Name returns the provider name (e.g., "openai", "anthropic", "xai")
	Name() string

	// Models returns all model identifiers this provider serves
	Models() []string

	// SupportsModel checks if a model is served by this provider
	SupportsModel(model string) bool

	// ModelInfo returns catalog information about a specific model
	ModelInfo(model string) (*ModelInfo, error)

	// Invoke performs a completion request
	Invoke(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error)

	// InvokeStream performs a streaming completion request. The returned
	// stream preserves provider chunk order and signals end-of-stream
	// distinctly from a mid-stream error.
	InvokeStream(ctx context.Context, req *models.NormalizedRequest) (*Stream, error)
}

// ModelInfo contains catalog metadata about a model.
type ModelInfo struct {
	// ID is the model identifier
	ID string `json:"id"`

	// Name is the human-readable name
	Name string `json:"name"`

	// Provider that offers this model
	Provider string `json:"provider"`

	// ContextWindow size in tokens
	ContextWindow int `json:"context_window"`

	// MaxOutputTokens supported by the model
	MaxOutputTokens int `json:"max_output_tokens"`

	// Pricing in USD per million tokens
	PromptPricePerMTok     float64 `json:"prompt_price_per_mtok"`
	CompletionPricePerMTok float64 `json:"completion_price_per_mtok"`

	// SupportsStreaming indicates incremental delivery support
	SupportsStreaming bool `json:"supports_streaming"`
}

// Cost returns the estimated cost in USD for the given token usage.
func (m *ModelInfo) Cost(usage models.Usage) float64 {
	prompt := float64(usage.PromptTokens) / 1_000_000 * m.PromptPricePerMTok
	completion := float64(usage.CompletionTokens) / 1_000_000 * m.CompletionPricePerMTok
	return prompt + completion
}

// ClassifyHTTPStatus maps a vendor HTTP status into the shared error
// taxonomy. Adapters call this so the executor and router never see a raw
// vendor error shape.
func ClassifyHTTPStatus(provider string, status int, message string) *services.DomainError {
	var errType services.ErrorType
	switch {
	case status == http.StatusTooManyRequests:
		errType = services.ErrorTypeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = services.ErrorTypeAuthFailed
	case status == http.StatusNotFound:
		errType = services.ErrorTypeModelNotFound
	case status >= 500:
		errType = services.ErrorTypeServerError
	default:
		errType = services.ErrorTypeInvalidRequest
	}

	if message == "" {
		message = fmt.Sprintf("%s returned status %d", provider, status)
	}

	return services.NewDomainError(errType, message, nil).
		WithDetail("provider", provider).
		WithDetail("status", status)
}

// ClassifyTransportError maps a transport-level failure (dial error,
// connection reset, deadline) into the shared taxonomy.
func ClassifyTransportError(provider string, err error) *services.DomainError {
	var errType services.ErrorType
	var message string

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errType = services.ErrorTypeTimeout
		message = provider + " call exceeded deadline"
	case errors.Is(err, context.Canceled):
		// The caller went away. Not a provider failure: excluded from
		// retry and circuit counting.
		errType = services.ErrorTypeCanceled
		message = provider + " call canceled by caller"
	case isTimeoutError(err):
		errType = services.ErrorTypeTimeout
		message = provider + " call timed out"
	default:
		errType = services.ErrorTypeNetworkError
		message = provider + " unreachable"
	}

	return services.NewDomainError(errType, message, err).
		WithDetail("provider", provider)
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// RetryAfter extracts a retry-after hint from a vendor response header.
// Returns zero when the header is absent or unparseable.
func RetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if d, err := time.ParseDuration(raw + "s"); err == nil {
		return d
	}
	return 0
}
