package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(url string) *OpenAIService {
	return NewOpenAIService("test-key", &url).WithRetry(3, time.Millisecond)
}

func TestChatCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.2, *req.Temperature)
		assert.Len(t, req.Messages, 2)

		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Model: "gpt-4o-mini",
			Choices: []ChatChoice{
				{Message: ChatMessage{Role: "assistant", Content: "ok"}},
			},
		})
	}))
	defer srv.Close()

	svc := newTestService(srv.URL)
	resp, err := svc.ChatCompletion(context.Background(), "gpt-4o-mini", []ChatMessage{
		{Role: "system", Content: "s"},
		{Role: "user", Content: "u"},
	}, 0.2)
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
}

func TestChatCompletion_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []ChatChoice{{Message: ChatMessage{Content: "done"}}},
		})
	}))
	defer srv.Close()

	resp, err := newTestService(srv.URL).ChatCompletion(context.Background(), "m", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatCompletion_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestService(srv.URL).ChatCompletion(context.Background(), "m", nil, 0)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestChatCompletion_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestService(srv.URL).ChatCompletion(ctx, "m", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.New("read: connection reset by peer")))
	assert.True(t, isRetryable(&APIError{StatusCode: 429}))
	assert.True(t, isRetryable(&APIError{StatusCode: 502}))
	assert.False(t, isRetryable(&APIError{StatusCode: 400}))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(errors.New("invalid JSON")))
}
