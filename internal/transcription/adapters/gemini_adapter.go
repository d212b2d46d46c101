package adapters

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"lumenclean/internal/transcription/interfaces"
	"lumenclean/internal/transcription/postprocessor"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiAdapter cleans turns through Google's Gemini API
type GeminiAdapter struct {
	*BaseAdapter
	client *genai.Client
}

// NewGeminiAdapter creates a Gemini-backed cleaning adapter
func NewGeminiAdapter(ctx context.Context, apiKey, model string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiAdapter{
		BaseAdapter: NewBaseAdapter("gemini", model),
		client:      client,
	}, nil
}

// Rewrite sends the turn to Gemini with a JSON response MIME type
func (a *GeminiAdapter) Rewrite(ctx context.Context, req interfaces.RewriteRequest) (result *interfaces.RewriteResult, err error) {
	startTime := time.Now()
	a.LogProcessingStart(req)
	defer func() {
		a.LogProcessingEnd(req, time.Since(startTime), err)
	}()

	if err := a.ValidateRequest(req); err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(postprocessor.BuildUserPrompt(req), genai.RoleUser),
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.Model(), contents, buildGeminiConfig(req))
	if err != nil {
		return nil, fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from GenAI")
	}

	result, err = postprocessor.ParseRewriteResponse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GenAI response: %w", err)
	}

	result.ProcessingTime = time.Since(startTime)
	result.ModelUsed = a.Model()
	if resp.ModelVersion != "" {
		result.ModelUsed = resp.ModelVersion
	}
	return result, nil
}

func buildGeminiConfig(req interfaces.RewriteRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(postprocessor.SystemPrompt(req.Level), genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Params.Temperature)),
		ResponseMIMEType:  "application/json",
	}
	if req.Params.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.Params.TopP))
	}
	if req.Params.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(req.Params.TopK))
	}
	if req.Params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	return cfg
}
