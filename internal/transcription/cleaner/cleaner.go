// Package cleaner drives a single turn from pending to a terminal state:
// classify, gather context, call the backend when needed, record, persist.
package cleaner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lumenclean/internal/models"
	"lumenclean/internal/transcription/classifier"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/internal/transcription/window"
	"lumenclean/pkg/logger"
)

const DefaultTimeout = 30 * time.Second

// TurnSaver persists a turn by id.
type TurnSaver interface {
	SaveTurn(ctx context.Context, turn *models.Turn) error
}

// Cleaner is the cleaning orchestrator. It is safe for concurrent use as long
// as a given conversation is processed by one goroutine at a time.
type Cleaner struct {
	backend    interfaces.CleaningBackend
	classifier *classifier.Classifier
	windows    *window.Manager
	store      TurnSaver
	timeout    time.Duration
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Cleaner) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Cleaner. store may be nil when results need not be persisted.
func New(backend interfaces.CleaningBackend, cls *classifier.Classifier, windows *window.Manager, store TurnSaver, opts ...Option) *Cleaner {
	c := &Cleaner{
		backend:    backend,
		classifier: cls,
		windows:    windows,
		store:      store,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Windows exposes the context manager the cleaner reads from.
func (c *Cleaner) Windows() *window.Manager {
	return c.windows
}

// Process brings turn to completed or skipped. Per-turn failures are recorded
// on the turn itself; the returned error only reports persistence failures,
// which never undo the computed result.
func (c *Cleaner) Process(ctx context.Context, turn *models.Turn, settings models.ConversationSettings) (*models.Turn, error) {
	startTime := time.Now()

	var storeErrs []error
	if err := turn.Transition(models.StateProcessing); err != nil {
		return turn, err
	}
	if err := c.save(ctx, turn); err != nil {
		storeErrs = append(storeErrs, err)
	}

	decision := c.classifier.Classify(turn, settings)
	turn.CleaningLevel = decision.Level

	switch {
	case decision.Bypass:
		c.finishUnchanged(turn, models.StateSkipped, decision.Reason)
	case !decision.NeedsBackend():
		c.finishUnchanged(turn, models.StateCompleted, decision.Reason)
	default:
		c.clean(ctx, turn, settings, decision.Level)
	}

	turn.ProcessingTimeMS = time.Since(startTime).Milliseconds()
	c.record(turn)

	if err := c.save(ctx, turn); err != nil {
		storeErrs = append(storeErrs, err)
	}

	logger.Debug("Turn processed",
		"turn_id", turn.ID,
		"conversation_id", turn.ConversationID,
		"state", turn.State,
		"confidence", turn.Confidence,
		"cleaning_applied", turn.CleaningApplied,
		"duration_ms", turn.ProcessingTimeMS)

	return turn, errors.Join(storeErrs...)
}

// Abort forces turn into the ERROR terminal state after an unexpected failure
// and records its raw text as context. A turn that already reached a terminal
// state is only persisted again.
func (c *Cleaner) Abort(ctx context.Context, turn *models.Turn, settings models.ConversationSettings, cause error) (*models.Turn, error) {
	if !turn.IsTerminal() {
		if turn.State == models.StatePending {
			_ = turn.Transition(models.StateProcessing)
		}
		if !turn.CleaningLevel.Valid() {
			turn.CleaningLevel = settings.CleaningLevel
		}
		c.fail(turn, cause)
		c.record(turn)
	}
	return turn, c.save(ctx, turn)
}

func (c *Cleaner) clean(ctx context.Context, turn *models.Turn, settings models.ConversationSettings, level models.CleaningLevel) {
	req := interfaces.RewriteRequest{
		TurnID:         turn.ID,
		ConversationID: turn.ConversationID,
		Speaker:        turn.Speaker,
		RawText:        turn.RawText,
		Context:        c.windows.Get(turn.ConversationID, settings.WindowSize),
		Level:          level,
		Params:         settings.ModelParams,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.backend.Rewrite(callCtx, req)
	if err == nil && (result == nil || strings.TrimSpace(result.CleanedText) == "") {
		err = errors.New("backend returned no cleaned text")
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		c.fail(turn, err)
		return
	}

	confidence := result.Confidence
	if confidence.IsSentinel() || confidence.Rank() == 0 {
		confidence = models.ConfidenceLow
	}
	corrections := result.Corrections
	if corrections == nil {
		corrections = []models.Correction{}
	}

	turn.CleanedText = result.CleanedText
	turn.CleaningApplied = result.CleanedText != turn.RawText
	turn.Confidence = confidence
	turn.Corrections = corrections
	turn.ContextDetected = result.ContextDetected
	turn.ModelUsed = result.ModelUsed
	if turn.ModelUsed == "" {
		turn.ModelUsed = c.backend.Name()
	}
	_ = turn.Transition(models.StateCompleted)
}

func (c *Cleaner) finishUnchanged(turn *models.Turn, state models.ProcessingState, reason string) {
	turn.CleanedText = turn.RawText
	turn.CleaningApplied = false
	turn.Confidence = models.ConfidenceBypass
	turn.Corrections = []models.Correction{}
	turn.ContextDetected = reason
	_ = turn.Transition(state)
}

// fail records err on the turn and falls back to the raw text.
func (c *Cleaner) fail(turn *models.Turn, err error) {
	logger.Warn("Cleaning failed, keeping raw text",
		"turn_id", turn.ID,
		"conversation_id", turn.ConversationID,
		"error", err)

	turn.CleanedText = turn.RawText
	turn.CleaningApplied = false
	turn.Confidence = models.ConfidenceError
	turn.Corrections = []models.Correction{}
	turn.ContextDetected = "cleaning failed: " + err.Error()
	if c.backend != nil {
		turn.ModelUsed = c.backend.Name()
	}
	_ = turn.Transition(models.StateCompleted)
}

// record appends the finished turn to its conversation's context.
func (c *Cleaner) record(turn *models.Turn) {
	c.windows.Append(turn.ConversationID, turn.ContextEntry())
}

func (c *Cleaner) save(ctx context.Context, turn *models.Turn) error {
	if c.store == nil {
		return nil
	}
	// terminal states must persist even when the caller is shutting down
	if err := c.store.SaveTurn(context.WithoutCancel(ctx), turn); err != nil {
		logger.Error("Failed to save turn",
			"turn_id", turn.ID,
			"state", turn.State,
			"error", err)
		return fmt.Errorf("save turn %s: %w", turn.ID, err)
	}
	return nil
}
