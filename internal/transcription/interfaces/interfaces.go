package interfaces

import (
	"context"
	"time"

	"lumenclean/internal/models"
)

// RewriteRequest is everything a cleaning backend needs to rewrite one turn.
type RewriteRequest struct {
	TurnID         string
	ConversationID string
	Speaker        models.Speaker
	RawText        string
	// Context holds the previously cleaned turns, oldest first.
	Context []models.ContextEntry
	Level   models.CleaningLevel
	Params  models.ModelParams
}

// RewriteResult is the backend's answer for one turn.
type RewriteResult struct {
	CleanedText     string
	Confidence      models.Confidence
	Corrections     []models.Correction
	ContextDetected string
	ProcessingTime  time.Duration
	ModelUsed       string
}

// CleaningBackend is the only outbound call to the rewriting model.
// Implementations must be safe for concurrent use.
type CleaningBackend interface {
	Rewrite(ctx context.Context, req RewriteRequest) (*RewriteResult, error)
	Name() string
}
