package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lumenclean/internal/llm"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/internal/transcription/postprocessor"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// chatCompleter is the slice of llm.OpenAIService the adapter needs
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error)
}

// OpenAIAdapter cleans turns through an OpenAI-compatible chat-completions endpoint
type OpenAIAdapter struct {
	*BaseAdapter
	client chatCompleter
}

// NewOpenAIAdapter creates a new OpenAI adapter. baseURL may be empty.
func NewOpenAIAdapter(apiKey, baseURL, model string) *OpenAIAdapter {
	if model == "" {
		model = DefaultOpenAIModel
	}
	var url *string
	if baseURL != "" {
		url = &baseURL
	}
	return &OpenAIAdapter{
		BaseAdapter: NewBaseAdapter("openai", model),
		client:      llm.NewOpenAIService(apiKey, url),
	}
}

// Rewrite sends the turn and its context to the model and parses the JSON reply
func (a *OpenAIAdapter) Rewrite(ctx context.Context, req interfaces.RewriteRequest) (result *interfaces.RewriteResult, err error) {
	startTime := time.Now()
	a.LogProcessingStart(req)
	defer func() {
		a.LogProcessingEnd(req, time.Since(startTime), err)
	}()

	if err := a.ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := a.client.CreateChatCompletion(ctx, a.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from LLM")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err = postprocessor.ParseRewriteResponse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}

	result.ProcessingTime = time.Since(startTime)
	result.ModelUsed = a.Model()
	if resp.Model != "" {
		result.ModelUsed = resp.Model
	}
	return result, nil
}

func (a *OpenAIAdapter) buildRequest(req interfaces.RewriteRequest) llm.ChatCompletionRequest {
	temperature := req.Params.Temperature
	out := llm.ChatCompletionRequest{
		Model: a.Model(),
		Messages: []llm.ChatMessage{
			{Role: "system", Content: postprocessor.SystemPrompt(req.Level)},
			{Role: "user", Content: postprocessor.BuildUserPrompt(req)},
		},
		Temperature:    &temperature,
		MaxTokens:      req.Params.MaxTokens,
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
	}
	// top_k has no chat-completions equivalent and is dropped here
	if req.Params.TopP > 0 {
		topP := req.Params.TopP
		out.TopP = &topP
	}
	return out
}
