package adapters

import (
	"context"
	"fmt"

	"lumenclean/internal/config"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/pkg/logger"
)

// New builds the cleaning backend selected by cfg.Cleaning.Backend
func New(ctx context.Context, cfg *config.Config) (interfaces.CleaningBackend, error) {
	var (
		backend interfaces.CleaningBackend
		err     error
	)

	switch cfg.Cleaning.Backend {
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai backend requires openai.api_key")
		}
		backend = NewOpenAIAdapter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	case "gemini":
		backend, err = NewGeminiAdapter(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, err
		}
	case "local", "":
		backend = NewLocalAdapter()
	default:
		return nil, fmt.Errorf("unknown cleaning backend %q", cfg.Cleaning.Backend)
	}

	logger.Info("Cleaning backend ready", "backend", backend.Name())
	return backend, nil
}
