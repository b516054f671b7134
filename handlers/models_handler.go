package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/services/providers"
	"github.com/normalman743/apiforward/utils"
)

// ModelResponse describes one servable model.
type ModelResponse struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Provider          string  `json:"provider"`
	ContextWindow     int     `json:"context_window"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	PromptPrice       float64 `json:"prompt_price_per_mtok"`
	CompletionPrice   float64 `json:"completion_price_per_mtok"`
	SupportsStreaming bool    `json:"supports_streaming"`
}

// ModelsHandler serves the model catalog.
type ModelsHandler struct {
	registry *providers.Registry
	logger   *zap.Logger
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(registry *providers.Registry, logger *zap.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, logger: logger}
}

// HandleListModels handles GET /v1/models.
func (h *ModelsHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.ListModelInfo()

	out := make([]ModelResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, toModelResponse(info))
	}

	_ = utils.WriteOK(w, map[string]interface{}{"models": out})
}

// HandleGetModel handles GET /v1/models/{model}.
func (h *ModelsHandler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")

	info, err := h.registry.ModelInfo(model)
	if err != nil {
		_ = utils.WriteNotFound(w, "model "+model+" is not served by any provider")
		return
	}

	_ = utils.WriteOK(w, toModelResponse(info))
}

func toModelResponse(info *providers.ModelInfo) ModelResponse {
	return ModelResponse{
		ID:                info.ID,
		Name:              info.Name,
		Provider:          info.Provider,
		ContextWindow:     info.ContextWindow,
		MaxOutputTokens:   info.MaxOutputTokens,
		PromptPrice:       info.PromptPricePerMTok,
		CompletionPrice:   info.CompletionPricePerMTok,
		SupportsStreaming: info.SupportsStreaming,
	}
}
