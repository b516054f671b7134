package anthropic

import "github.com/normalman743/apiforward/services/providers"

// defaultCatalog lists the models this adapter serves, with pricing in USD
// per million tokens.
func defaultCatalog() map[string]*providers.ModelInfo {
	return map[string]*providers.ModelInfo{
		"claude-sonnet-4-20250514": {
			ID:                     "claude-sonnet-4-20250514",
			Name:                   "Claude Sonnet 4",
			Provider:               "anthropic",
			ContextWindow:          200000,
			MaxOutputTokens:        64000,
			PromptPricePerMTok:     3.00,
			CompletionPricePerMTok: 15.00,
			SupportsStreaming:      true,
		},
		"claude-3-5-haiku-20241022": {
			ID:                     "claude-3-5-haiku-20241022",
			Name:                   "Claude 3.5 Haiku",
			Provider:               "anthropic",
			ContextWindow:          200000,
			MaxOutputTokens:        8192,
			PromptPricePerMTok:     0.80,
			CompletionPricePerMTok: 4.00,
			SupportsStreaming:      true,
		},
		"claude-opus-4-20250514": {
			ID:                     "claude-opus-4-20250514",
			Name:                   "Claude Opus 4",
			Provider:               "anthropic",
			ContextWindow:          200000,
			MaxOutputTokens:        32000,
			PromptPricePerMTok:     15.00,
			CompletionPricePerMTok: 75.00,
			SupportsStreaming:      true,
		},
	}
}
