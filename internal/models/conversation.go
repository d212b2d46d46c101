package models

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultWindowSize = 8
	MaxWindowSize     = 20

	maxConversationIDLen = 64
)

var (
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrInvalidSettings     = errors.New("invalid conversation settings")
)

// ValidateConversationID accepts 1-64 characters drawn from letters, digits and "-_.:".
func ValidateConversationID(id string) error {
	if id == "" || len(id) > maxConversationIDLen {
		return fmt.Errorf("%w: %q", ErrInvalidConversation, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidConversation, id)
		}
	}
	return nil
}

// ModelParams are the sampling parameters forwarded to the rewriting model.
type ModelParams struct {
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" mapstructure:"top_p"`
	TopK        int     `json:"top_k" yaml:"top_k" mapstructure:"top_k"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultModelParams returns conservative sampling settings for text cleanup.
func DefaultModelParams() ModelParams {
	return ModelParams{
		Temperature: 0.2,
		TopP:        0.95,
		TopK:        40,
		MaxTokens:   1024,
	}
}

// ConversationSettings is the per-conversation policy consulted when a turn is processed.
type ConversationSettings struct {
	WindowSize              int           `json:"window_size" yaml:"window_size"`
	CleaningLevel           CleaningLevel `json:"cleaning_level" yaml:"cleaning_level"`
	SkipTranscriptionErrors bool          `json:"skip_transcription_errors" yaml:"skip_transcription_errors"`
	ModelParams             ModelParams   `json:"model_params" yaml:"model_params"`
}

// DefaultSettings returns the settings a conversation receives on first submission.
func DefaultSettings() ConversationSettings {
	return ConversationSettings{
		WindowSize:    DefaultWindowSize,
		CleaningLevel: LevelFull,
		ModelParams:   DefaultModelParams(),
	}
}

// Validate checks the settings against maxWindow.
func (s ConversationSettings) Validate(maxWindow int) error {
	if maxWindow <= 0 {
		maxWindow = MaxWindowSize
	}
	if s.WindowSize < 0 || s.WindowSize > maxWindow {
		return fmt.Errorf("%w: window size %d out of range 0..%d", ErrInvalidSettings, s.WindowSize, maxWindow)
	}
	if !s.CleaningLevel.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, s.CleaningLevel)
	}
	p := s.ModelParams
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f out of range 0..2", ErrInvalidSettings, p.Temperature)
	}
	if p.TopP < 0 || p.TopP > 1 {
		return fmt.Errorf("%w: top_p %.2f out of range 0..1", ErrInvalidSettings, p.TopP)
	}
	if p.TopK < 0 || p.MaxTokens < 0 {
		return fmt.Errorf("%w: top_k and max_tokens must be non-negative", ErrInvalidSettings)
	}
	return nil
}

// Conversation groups turns and carries their cleaning settings.
type Conversation struct {
	ID                      string        `json:"id" gorm:"primaryKey;size:64"`
	TurnIDs                 []string      `json:"turn_ids" gorm:"serializer:json"`
	WindowSize              int           `json:"window_size" gorm:"not null"`
	CleaningLevel           CleaningLevel `json:"cleaning_level" gorm:"size:8;not null"`
	SkipTranscriptionErrors bool          `json:"skip_transcription_errors"`
	ModelParams             ModelParams   `json:"model_params" gorm:"embedded;embeddedPrefix:model_"`
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation creates an empty conversation with the given settings.
func NewConversation(id string, settings ConversationSettings) *Conversation {
	c := &Conversation{ID: id, TurnIDs: []string{}}
	c.Apply(settings)
	return c
}

// Settings extracts the cleaning policy.
func (c *Conversation) Settings() ConversationSettings {
	return ConversationSettings{
		WindowSize:              c.WindowSize,
		CleaningLevel:           c.CleaningLevel,
		SkipTranscriptionErrors: c.SkipTranscriptionErrors,
		ModelParams:             c.ModelParams,
	}
}

// Apply overwrites the cleaning policy.
func (c *Conversation) Apply(s ConversationSettings) {
	c.WindowSize = s.WindowSize
	c.CleaningLevel = s.CleaningLevel
	c.SkipTranscriptionErrors = s.SkipTranscriptionErrors
	c.ModelParams = s.ModelParams
}
