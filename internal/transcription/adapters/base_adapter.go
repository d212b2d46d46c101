package adapters

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"lumenclean/internal/models"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/pkg/logger"
)

var ErrEmptyInput = errors.New("raw text is empty")

// BaseAdapter holds what every cleaning backend shares: identity and request logging
type BaseAdapter struct {
	name  string
	model string
}

// NewBaseAdapter creates a base adapter
func NewBaseAdapter(name, model string) *BaseAdapter {
	return &BaseAdapter{name: name, model: model}
}

// Name returns "<backend>:<model>"
func (b *BaseAdapter) Name() string {
	if b.model == "" {
		return b.name
	}
	return fmt.Sprintf("%s:%s", b.name, b.model)
}

// Model returns the configured model identifier
func (b *BaseAdapter) Model() string {
	return b.model
}

// ValidateRequest rejects requests the backend cannot act on
func (b *BaseAdapter) ValidateRequest(req interfaces.RewriteRequest) error {
	if strings.TrimSpace(req.RawText) == "" {
		return ErrEmptyInput
	}
	if req.Level == models.LevelNone {
		return fmt.Errorf("%s: cleaning level none must not reach the backend", b.name)
	}
	return nil
}

// LogProcessingStart logs the start of a rewrite call
func (b *BaseAdapter) LogProcessingStart(req interfaces.RewriteRequest) {
	logger.Debug("Rewrite started",
		"backend", b.Name(),
		"turn_id", req.TurnID,
		"conversation_id", req.ConversationID,
		"level", req.Level,
		"context_turns", len(req.Context))
}

// LogProcessingEnd logs the outcome of a rewrite call
func (b *BaseAdapter) LogProcessingEnd(req interfaces.RewriteRequest, elapsed time.Duration, err error) {
	if err != nil {
		logger.Warn("Rewrite failed",
			"backend", b.Name(),
			"turn_id", req.TurnID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err)
		return
	}
	logger.Debug("Rewrite finished",
		"backend", b.Name(),
		"turn_id", req.TurnID,
		"duration_ms", elapsed.Milliseconds())
}
