package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("writes status and body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteJSON(rec, http.StatusTeapot, map[string]string{"k": "v"}))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "v", body["k"])
	})

	t.Run("nil data writes no body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteJSON(rec, http.StatusOK, nil))
		assert.Zero(t, rec.Body.Len())
	})
}

func TestErrorWriters(t *testing.T) {
	cases := []struct {
		name      string
		write     func(w http.ResponseWriter) error
		status    int
		errorCode string
	}{
		{"bad request", func(w http.ResponseWriter) error {
			return WriteBadRequest(w, "nope", map[string]interface{}{"field": "model"})
		}, http.StatusBadRequest, "bad_request"},
		{"not found", func(w http.ResponseWriter) error {
			return WriteNotFound(w, "")
		}, http.StatusNotFound, "not_found"},
		{"too many requests", func(w http.ResponseWriter) error {
			return WriteTooManyRequests(w, "slow down", "30")
		}, http.StatusTooManyRequests, "rate_limited"},
		{"internal error", func(w http.ResponseWriter) error {
			return WriteInternalError(w, "")
		}, http.StatusInternalServerError, "internal_error"},
		{"bad gateway", func(w http.ResponseWriter) error {
			return WriteBadGateway(w, "")
		}, http.StatusBadGateway, "bad_gateway"},
		{"service unavailable", func(w http.ResponseWriter) error {
			return WriteServiceUnavailable(w, "")
		}, http.StatusServiceUnavailable, "service_unavailable"},
		{"gateway timeout", func(w http.ResponseWriter) error {
			return WriteGatewayTimeout(w, "")
		}, http.StatusGatewayTimeout, "gateway_timeout"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			require.NoError(t, tc.write(rec))

			assert.Equal(t, tc.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.errorCode, resp.Error)
		})
	}

	t.Run("retry-after header is set when provided", func(t *testing.T) {
		rec := httptest.NewRecorder()
		require.NoError(t, WriteTooManyRequests(rec, "slow down", "30"))
		assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	})
}
