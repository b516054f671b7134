// Package xai provides the provider adapter for the xAI API, which speaks
// the OpenAI chat completions wire format under its own base URL.
package xai

import (
	"github.com/normalman743/apiforward/services/providers"
	"github.com/normalman743/apiforward/services/providers/openai"
)

const defaultBaseURL = "https://api.x.ai/v1"

// New creates the xAI adapter.
func New(config openai.Config) *openai.Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	return openai.NewCompatible("xai", config, catalog())
}

func catalog() map[string]*providers.ModelInfo {
	return map[string]*providers.ModelInfo{
		"grok-3": {
			ID:                     "grok-3",
			Name:                   "Grok 3",
			Provider:               "xai",
			ContextWindow:          131072,
			MaxOutputTokens:        16384,
			PromptPricePerMTok:     3.00,
			CompletionPricePerMTok: 15.00,
			SupportsStreaming:      true,
		},
		"grok-3-mini": {
			ID:                     "grok-3-mini",
			Name:                   "Grok 3 mini",
			Provider:               "xai",
			ContextWindow:          131072,
			MaxOutputTokens:        16384,
			PromptPricePerMTok:     0.30,
			CompletionPricePerMTok: 0.50,
			SupportsStreaming:      true,
		},
	}
}
