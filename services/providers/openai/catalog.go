package openai

import "github.com/normalman743/apiforward/services/providers"

// defaultCatalog lists the chat models this adapter serves, with pricing
// expressed in USD per million tokens.
func defaultCatalog() map[string]*providers.ModelInfo {
	return map[string]*providers.ModelInfo{
		"gpt-4o": {
			ID:                     "gpt-4o",
			Name:                   "GPT-4o",
			Provider:               "openai",
			ContextWindow:          128000,
			MaxOutputTokens:        16384,
			PromptPricePerMTok:     2.50,
			CompletionPricePerMTok: 10.00,
			SupportsStreaming:      true,
		},
		"gpt-4o-mini": {
			ID:                     "gpt-4o-mini",
			Name:                   "GPT-4o mini",
			Provider:               "openai",
			ContextWindow:          128000,
			MaxOutputTokens:        16384,
			PromptPricePerMTok:     0.15,
			CompletionPricePerMTok: 0.60,
			SupportsStreaming:      true,
		},
		"gpt-4.1": {
			ID:                     "gpt-4.1",
			Name:                   "GPT-4.1",
			Provider:               "openai",
			ContextWindow:          1047576,
			MaxOutputTokens:        32768,
			PromptPricePerMTok:     2.00,
			CompletionPricePerMTok: 8.00,
			SupportsStreaming:      true,
		},
		"gpt-4.1-mini": {
			ID:                     "gpt-4.1-mini",
			Name:                   "GPT-4.1 mini",
			Provider:               "openai",
			ContextWindow:          1047576,
			MaxOutputTokens:        32768,
			PromptPricePerMTok:     0.40,
			CompletionPricePerMTok: 1.60,
			SupportsStreaming:      true,
		},
	}
}
