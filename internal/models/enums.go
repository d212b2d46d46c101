package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSpeaker    = errors.New("invalid speaker")
	ErrInvalidLevel      = errors.New("invalid cleaning level")
	ErrInvalidTransition = errors.New("invalid processing state transition")
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "User"
	SpeakerLumen Speaker = "Lumen"
	SpeakerAI    Speaker = "AI"
)

// ParseSpeaker accepts speaker labels case-insensitively.
func ParseSpeaker(s string) (Speaker, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return SpeakerUser, nil
	case "lumen":
		return SpeakerLumen, nil
	case "ai":
		return SpeakerAI, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSpeaker, s)
	}
}

// IsAssistant reports whether the speaker is an assistant/system voice.
// Assistant turns are never sent to the cleaning backend.
func (s Speaker) IsAssistant() bool {
	return s == SpeakerLumen || s == SpeakerAI
}

// CleaningLevel controls how aggressively a turn is rewritten.
type CleaningLevel string

const (
	LevelNone  CleaningLevel = "none"
	LevelLight CleaningLevel = "light"
	LevelFull  CleaningLevel = "full"
)

// ParseCleaningLevel parses a level name. The empty string is rejected.
func ParseCleaningLevel(s string) (CleaningLevel, error) {
	switch CleaningLevel(strings.ToLower(strings.TrimSpace(s))) {
	case LevelNone:
		return LevelNone, nil
	case LevelLight:
		return LevelLight, nil
	case LevelFull:
		return LevelFull, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
}

// Valid reports whether l is one of the known levels.
func (l CleaningLevel) Valid() bool {
	return l == LevelNone || l == LevelLight || l == LevelFull
}

// ProcessingState is the lifecycle of a turn:
//
//	pending -> processing -> completed | skipped
type ProcessingState string

const (
	StatePending    ProcessingState = "pending"
	StateProcessing ProcessingState = "processing"
	StateCompleted  ProcessingState = "completed"
	StateSkipped    ProcessingState = "skipped"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ProcessingState) IsTerminal() bool {
	return s == StateCompleted || s == StateSkipped
}

// CanTransition reports whether s -> to is a legal edge of the state machine.
func (s ProcessingState) CanTransition(to ProcessingState) bool {
	switch s {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateSkipped
	default:
		return false
	}
}

// Confidence is either an ordinal quality grade (HIGH, MEDIUM, LOW) or one of
// the sentinels used around processing (PENDING, BYPASS, ERROR).
type Confidence string

const (
	ConfidenceHigh    Confidence = "HIGH"
	ConfidenceMedium  Confidence = "MEDIUM"
	ConfidenceLow     Confidence = "LOW"
	ConfidencePending Confidence = "PENDING"
	ConfidenceBypass  Confidence = "BYPASS"
	ConfidenceError   Confidence = "ERROR"
)

// IsSentinel reports whether c is a non-ordinal marker.
func (c Confidence) IsSentinel() bool {
	return c == ConfidencePending || c == ConfidenceBypass || c == ConfidenceError
}

// Rank orders the ordinal grades. Sentinels rank 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// ParseGrade maps a backend-reported grade onto the ordinal scale.
// Anything unrecognised, including sentinel names, degrades to LOW.
func ParseGrade(s string) Confidence {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
