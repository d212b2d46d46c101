package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lumenclean/pkg/logger"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultMaxRetries = 3
)

// ChatMessage is a single chat-completions message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for a structured reply.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatCompletionRequest is the request body for /chat/completions.
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the decoded /chat/completions response.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OpenAI API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OpenAIService talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIService struct {
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewOpenAIService creates a client. A nil baseURL selects the public API.
func NewOpenAIService(apiKey string, baseURL *string) *OpenAIService {
	url := DefaultBaseURL
	if baseURL != nil && *baseURL != "" {
		url = strings.TrimRight(*baseURL, "/")
	}
	return &OpenAIService{
		apiKey:     apiKey,
		baseURL:    url,
		client:     &http.Client{Timeout: 2 * time.Minute},
		maxRetries: DefaultMaxRetries,
		backoff:    time.Second,
	}
}

// WithRetry overrides the retry budget and base backoff.
func (s *OpenAIService) WithRetry(maxRetries int, backoff time.Duration) *OpenAIService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	s.maxRetries = maxRetries
	s.backoff = backoff
	return s
}

// ChatCompletion sends messages with the given temperature.
func (s *OpenAIService) ChatCompletion(ctx context.Context, model string, messages []ChatMessage, temperature float64) (*ChatCompletionResponse, error) {
	return s.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
	})
}

// CreateChatCompletion sends a fully specified request, retrying transient failures.
func (s *OpenAIService) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		resp, err := s.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == s.maxRetries {
			break
		}

		// Quadratic backoff, same curve as the transcription adapter
		wait := time.Duration(attempt*attempt) * s.backoff
		logger.Warn("Chat completion failed, retrying",
			"attempt", attempt, "max_retries", s.maxRetries, "backoff", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("chat completion failed: %w", lastErr)
}

func (s *OpenAIService) do(ctx context.Context, body []byte) (*ChatCompletionResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out ChatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// isRetryable classifies transport errors and retryable API statuses.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	errStr := err.Error()
	return strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection closed")
}
