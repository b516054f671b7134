package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/normalman743/apiforward/models"
	"github.com/normalman743/apiforward/services"
	"github.com/normalman743/apiforward/services/providers"
)

type fakeCompletionService struct {
	route       func(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error)
	routeStream func(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error)
	lastRequest *models.NormalizedRequest
}

func (f *fakeCompletionService) Route(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
	f.lastRequest = req
	return f.route(ctx, req)
}

func (f *fakeCompletionService) RouteStream(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
	f.lastRequest = req
	return f.routeStream(ctx, req)
}

func completionBody(extra string) string {
	body := `{"model": "gpt-4o-mini", "messages": [{"role": "user", "content": "hello"}]`
	if extra != "" {
		body += ", " + extra
	}
	return body + "}"
}

func TestCompletionHandler_HandleCompletion(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		service := &fakeCompletionService{
			route: func(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
				return &models.NormalizedResponse{
					ID:           "resp-1",
					Provider:     "openai",
					Model:        req.Model,
					Content:      "hi",
					FinishReason: "stop",
					Usage:        models.Usage{TotalTokens: 8},
				}, nil
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody("")))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp CompletionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "hi", resp.Content)
		assert.Equal(t, "openai", resp.Provider)
		assert.Equal(t, 8, resp.Usage.TotalTokens)
	})

	t.Run("request fields are normalized through", func(t *testing.T) {
		service := &fakeCompletionService{
			route: func(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
				return &models.NormalizedResponse{}, nil
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		body := completionBody(`"provider": "anthropic", "temperature": 0.5, "no_cache": true`)
		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, service.lastRequest)
		assert.Equal(t, "anthropic", service.lastRequest.Provider)
		require.NotNil(t, service.lastRequest.Params.Temperature)
		assert.Equal(t, 0.5, *service.lastRequest.Params.Temperature)
		assert.True(t, service.lastRequest.NoCache)
	})

	t.Run("malformed JSON is a 400", func(t *testing.T) {
		handler := NewCompletionHandler(&fakeCompletionService{}, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing messages is a 400", func(t *testing.T) {
		handler := NewCompletionHandler(&fakeCompletionService{}, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(`{"model": "gpt-4o-mini"}`))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid role is a 400", func(t *testing.T) {
		handler := NewCompletionHandler(&fakeCompletionService{}, zap.NewNop())

		body := `{"model": "m", "messages": [{"role": "robot", "content": "hi"}]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("domain errors map to HTTP statuses", func(t *testing.T) {
		cases := []struct {
			name   string
			err    error
			status int
		}{
			{"model not found", services.NewDomainError(services.ErrorTypeModelNotFound, "no such model", services.ErrModelNotFound), http.StatusNotFound},
			{"rate limited", services.NewDomainError(services.ErrorTypeRateLimited, "slow down", services.ErrRateLimited), http.StatusTooManyRequests},
			{"timeout", services.NewDomainError(services.ErrorTypeTimeout, "deadline", services.ErrTimeout), http.StatusGatewayTimeout},
			{"server error", services.NewDomainError(services.ErrorTypeServerError, "boom", services.ErrServerError), http.StatusBadGateway},
			{"circuit open", services.NewDomainError(services.ErrorTypeCircuitOpen, "open", services.ErrCircuitOpen), http.StatusServiceUnavailable},
			{"exhausted", services.NewDomainError(services.ErrorTypeExhausted, "all failed", services.ErrProvidersExhausted), http.StatusServiceUnavailable},
			{"persistence", services.NewDomainError(services.ErrorTypePersistence, "db down", services.ErrPersistence), http.StatusInternalServerError},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				service := &fakeCompletionService{
					route: func(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
						return nil, tc.err
					},
				}
				handler := NewCompletionHandler(service, zap.NewNop())

				req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody("")))
				rec := httptest.NewRecorder()
				handler.HandleCompletion(rec, req)

				assert.Equal(t, tc.status, rec.Code)
			})
		}
	})

	t.Run("caller cancellation writes no response", func(t *testing.T) {
		service := &fakeCompletionService{
			route: func(ctx context.Context, req *models.NormalizedRequest) (*models.NormalizedResponse, error) {
				return nil, services.NewDomainError(services.ErrorTypeCanceled, "gone", services.ErrCanceled)
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody("")))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "recorder default: nothing was written")
		assert.Empty(t, rec.Body.String())
	})

	t.Run("streaming response emits SSE and DONE", func(t *testing.T) {
		service := &fakeCompletionService{
			routeStream: func(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
				return providers.NewStream("openai", req.Model, func(yield func(models.ResponseChunk, error) bool) {
					if !yield(models.ResponseChunk{Content: "hel"}, nil) {
						return
					}
					if !yield(models.ResponseChunk{Content: "lo"}, nil) {
						return
					}
					yield(models.ResponseChunk{FinishReason: "stop", Usage: &models.Usage{TotalTokens: 5}}, nil)
				}), nil
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody(`"stream": true`)))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		var payloads []string
		scanner := bufio.NewScanner(rec.Body)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				payloads = append(payloads, data)
			}
		}

		require.Len(t, payloads, 4)
		assert.Equal(t, "[DONE]", payloads[3])

		var first StreamChunk
		require.NoError(t, json.Unmarshal([]byte(payloads[0]), &first))
		assert.Equal(t, "hel", first.Content)

		var last StreamChunk
		require.NoError(t, json.Unmarshal([]byte(payloads[2]), &last))
		assert.Equal(t, "stop", last.FinishReason)
		require.NotNil(t, last.Usage)
		assert.Equal(t, 5, last.Usage.TotalTokens)
	})

	t.Run("pre-stream failure maps to a normal HTTP error", func(t *testing.T) {
		service := &fakeCompletionService{
			routeStream: func(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
				return nil, services.NewDomainError(services.ErrorTypeCircuitOpen, "open", services.ErrCircuitOpen)
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody(`"stream": true`)))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("mid-stream failure becomes an error event", func(t *testing.T) {
		service := &fakeCompletionService{
			routeStream: func(ctx context.Context, req *models.NormalizedRequest) (*providers.Stream, error) {
				return providers.NewStream("openai", req.Model, func(yield func(models.ResponseChunk, error) bool) {
					if !yield(models.ResponseChunk{Content: "half"}, nil) {
						return
					}
					yield(models.ResponseChunk{}, services.NewDomainError(
						services.ErrorTypeNetworkError, "connection reset", services.ErrNetworkError))
				}), nil
			},
		}
		handler := NewCompletionHandler(service, zap.NewNop())

		req := httptest.NewRequest(http.MethodPost, "/v1/completions", strings.NewReader(completionBody(`"stream": true`)))
		rec := httptest.NewRecorder()
		handler.HandleCompletion(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"error"`)
		assert.NotContains(t, rec.Body.String(), "[DONE]")
	})
}
