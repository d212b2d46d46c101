package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Correction is one edit the cleaning backend reports having made.
type Correction struct {
	Original   string     `json:"original" yaml:"original"`
	Corrected  string     `json:"corrected" yaml:"corrected"`
	Confidence Confidence `json:"confidence" yaml:"confidence"`
	Reason     string     `json:"reason" yaml:"reason"`
}

// ContextEntry is one cleaned turn as seen by the sliding window.
type ContextEntry struct {
	Speaker     Speaker `json:"speaker" yaml:"speaker"`
	CleanedText string  `json:"cleaned_text" yaml:"cleaned_text"`
}

// Turn is one utterance by one speaker within a conversation.
type Turn struct {
	ID             string  `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string  `json:"conversation_id" gorm:"uniqueIndex:idx_conversation_sequence;size:64;not null"`
	Sequence       int     `json:"sequence" gorm:"uniqueIndex:idx_conversation_sequence;not null"`
	Speaker        Speaker `json:"speaker" gorm:"size:16;not null"`
	RawText        string  `json:"raw_text" gorm:"type:text;not null"`
	CleanedText    string  `json:"cleaned_text" gorm:"type:text"`

	State      ProcessingState `json:"processing_state" gorm:"size:16;index;not null"`
	Confidence Confidence      `json:"confidence_score" gorm:"size:16"`

	// LevelOverride, when set, replaces the conversation's cleaning level for this turn.
	LevelOverride   CleaningLevel `json:"level_override,omitempty" gorm:"size:8"`
	CleaningLevel   CleaningLevel `json:"cleaning_level" gorm:"size:8"`
	CleaningApplied bool          `json:"cleaning_applied"`
	Corrections     []Correction  `json:"corrections" gorm:"serializer:json"`
	ContextDetected string        `json:"context_detected" gorm:"type:text"`

	ProcessingTimeMS int64  `json:"processing_time_ms"`
	ModelUsed        string `json:"model_used" gorm:"size:100"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Turn) TableName() string {
	return "turns"
}

// NewTurn returns a pending turn whose cleaned text mirrors the raw text.
func NewTurn(conversationID string, speaker Speaker, rawText string) *Turn {
	return &Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Speaker:        speaker,
		RawText:        rawText,
		CleanedText:    rawText,
		State:          StatePending,
		Confidence:     ConfidencePending,
		Corrections:    []Correction{},
		CreatedAt:      time.Now().UTC(),
	}
}

// Transition moves the turn to the given state if the state machine allows it.
func (t *Turn) Transition(to ProcessingState) error {
	if !t.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s (turn %s)", ErrInvalidTransition, t.State, to, t.ID)
	}
	t.State = to
	if to.IsTerminal() {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	return nil
}

// IsTerminal reports whether the turn reached completed or skipped.
func (t *Turn) IsTerminal() bool {
	return t.State.IsTerminal()
}

// Failed reports whether processing ended in the ERROR state.
func (t *Turn) Failed() bool {
	return t.Confidence == ConfidenceError
}

// ContextEntry returns the (speaker, cleaned text) pair appended to the window.
func (t *Turn) ContextEntry() ContextEntry {
	return ContextEntry{Speaker: t.Speaker, CleanedText: t.CleanedText}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	c := *t
	if t.Corrections != nil {
		c.Corrections = make([]Correction, len(t.Corrections))
		copy(c.Corrections, t.Corrections)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
