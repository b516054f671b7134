package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
)

func newTestRequest() *models.NormalizedRequest {
	return &models.NormalizedRequest{
		Model: "claude-3-5-haiku-20241022",
		Messages: []models.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
	}
}

func TestAdapter_Invoke(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/messages", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
			assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

			var wire wireRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
			assert.Equal(t, "be brief", wire.System)
			require.Len(t, wire.Messages, 1)
			assert.Equal(t, "user", wire.Messages[0].Role)
			assert.Equal(t, defaultMaxTokens, wire.MaxTokens)

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "msg_123",
				"model": "claude-3-5-haiku-20241022",
				"content": [{"type": "text", "text": "hi there"}],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 10, "output_tokens": 4}
			}`))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		resp, err := adapter.Invoke(context.Background(), newTestRequest())
		require.NoError(t, err)
		assert.Equal(t, "msg_123", resp.ID)
		assert.Equal(t, "anthropic", resp.Provider)
		assert.Equal(t, "hi there", resp.Content)
		assert.Equal(t, "stop", resp.FinishReason)
		assert.Equal(t, 10, resp.Usage.PromptTokens)
		assert.Equal(t, 4, resp.Usage.CompletionTokens)
		assert.Equal(t, 14, resp.Usage.TotalTokens)
	})

	t.Run("max_tokens stop reason maps to length", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"id": "msg_1",
				"model": "claude-3-5-haiku-20241022",
				"content": [{"type": "text", "text": "trunc"}],
				"stop_reason": "max_tokens",
				"usage": {"input_tokens": 1, "output_tokens": 1}
			}`))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		resp, err := adapter.Invoke(context.Background(), newTestRequest())
		require.NoError(t, err)
		assert.Equal(t, "length", resp.FinishReason)
	})

	t.Run("overloaded status is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(529)
			w.Write([]byte(`{"error": {"type": "overloaded_error", "message": "overloaded"}}`))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		_, err := adapter.Invoke(context.Background(), newTestRequest())
		require.Error(t, err)
		assert.True(t, services.IsTransient(err))
	})

	t.Run("rate limit maps to rate_limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"type": "rate_limit_error", "message": "slow down"}}`))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		_, err := adapter.Invoke(context.Background(), newTestRequest())
		require.Error(t, err)
		assert.True(t, services.IsRateLimitError(err))
	})
}

func TestAdapter_InvokeStream(t *testing.T) {
	streamBody := "event: message_start\n" +
		"data: {\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-5-haiku-20241022\",\"usage\":{\"input_tokens\":12,\"output_tokens\":0}}}\n\n" +
		"event: content_block_start\n" +
		"data: {\"type\":\"content_block_start\"}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hel\"}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
		"event: content_block_stop\n" +
		"data: {\"type\":\"content_block_stop\"}\n\n" +
		"event: message_delta\n" +
		"data: {\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":5}}\n\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	t.Run("collects the event lifecycle", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var wire wireRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&wire))
			assert.True(t, wire.Stream)

			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte(streamBody))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		stream, err := adapter.InvokeStream(context.Background(), newTestRequest())
		require.NoError(t, err)

		resp, err := stream.Collect()
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
		assert.Equal(t, "stop", resp.FinishReason)
		assert.Equal(t, 12, resp.Usage.PromptTokens)
		assert.Equal(t, 5, resp.Usage.CompletionTokens)
		assert.Equal(t, 17, resp.Usage.TotalTokens)
	})

	t.Run("error event surfaces as server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte(
				"event: message_start\n" +
					"data: {\"message\":{\"usage\":{\"input_tokens\":1}}}\n\n" +
					"event: error\n" +
					"data: {\"error\":{\"type\":\"overloaded_error\",\"message\":\"overloaded\"}}\n\n"))
		}))
		defer server.Close()

		adapter := New(Config{APIKey: "test-key", BaseURL: server.URL})

		stream, err := adapter.InvokeStream(context.Background(), newTestRequest())
		require.NoError(t, err)

		_, err = stream.Collect()
		require.Error(t, err)
		assert.Equal(t, services.ErrorTypeServerError, services.GetErrorType(err))
	})
}
