package handlers

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/repositories"
	"github.com/normalman743/apiforward/utils"
)

const maxUsageResults = 1000

// UsageRecordResponse is one ledger record in API responses.
type UsageRecordResponse struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Provider    string       `json:"provider"`
	Model       string       `json:"model"`
	Usage       models.Usage `json:"usage"`
	Cost        float64      `json:"cost"`
	Outcome     string       `json:"outcome"`
	LatencyMs   int64        `json:"latency_ms"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// UsageHandler serves usage ledger queries.
type UsageHandler struct {
	ledgerRepo repositories.LedgerRepository
	logger     *zap.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(ledgerRepo repositories.LedgerRepository, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{ledgerRepo: ledgerRepo, logger: logger}
}

// HandleQueryUsage handles GET /v1/usage. Accepts either ?fingerprint=...
// or a ?from=...&to=... RFC 3339 time range with an optional ?limit=.
func (h *UsageHandler) HandleQueryUsage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if fingerprint := query.Get("fingerprint"); fingerprint != "" {
		records, err := h.ledgerRepo.FindByFingerprint(r.Context(), fingerprint)
		if err != nil {
			HandleServiceError(w, err, h.logger)
			return
		}
		h.writeRecords(w, records)
		return
	}

	fromRaw, toRaw := query.Get("from"), query.Get("to")
	if fromRaw == "" || toRaw == "" {
		_ = utils.WriteBadRequest(w, "either fingerprint or a from/to time range is required", nil)
		return
	}

	from, err := time.Parse(time.RFC3339, fromRaw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "from must be an RFC 3339 timestamp", nil)
		return
	}
	to, err := time.Parse(time.RFC3339, toRaw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "to must be an RFC 3339 timestamp", nil)
		return
	}
	if !to.After(from) {
		_ = utils.WriteBadRequest(w, "to must be after from", nil)
		return
	}

	limit := int64(100)
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 || parsed > maxUsageResults {
			_ = utils.WriteBadRequest(w, "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}

	records, err := h.ledgerRepo.FindByTimeRange(r.Context(), from, to, limit)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.writeRecords(w, records)
}

func (h *UsageHandler) writeRecords(w http.ResponseWriter, records []*models.LedgerRecord) {
	out := make([]UsageRecordResponse, 0, len(records))
	var totalCost float64
	var totalTokens int

	for _, record := range records {
		out = append(out, UsageRecordResponse{
			ID:          record.ID.String(),
			Fingerprint: record.Fingerprint,
			Provider:    record.Provider,
			Model:       record.Model,
			Usage:       record.Usage,
			Cost:        record.Cost,
			Outcome:     string(record.Outcome),
			LatencyMs:   record.LatencyMs,
			Error:       record.Error,
			CreatedAt:   record.CreatedAt,
		})
		totalCost += record.Cost
		totalTokens += record.Usage.TotalTokens
	}

	_ = utils.WriteOK(w, map[string]interface{}{
		"records":      out,
		"total_cost":   totalCost,
		"total_tokens": totalTokens,
	})
}
