// Package classifier decides, per turn, whether and how hard to clean it.
// Classification is pure: no I/O, no network, total over its inputs.
package classifier

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"lumenclean/internal/models"
)

// NoisePolicy configures the "likely transcription noise" heuristic.
type NoisePolicy struct {
	// NonLatinThreshold is the fraction of letters outside the Latin script
	// above which a turn is treated as misrecognised noise.
	NonLatinThreshold float64
	// MaxAckTokens is the longest run of acknowledgment tokens treated as noise.
	MaxAckTokens int
	// Acknowledgments are low-information tokens ("uh-huh", "ok").
	Acknowledgments []string
}

// DefaultNoisePolicy returns the built-in thresholds.
func DefaultNoisePolicy() NoisePolicy {
	return NoisePolicy{
		NonLatinThreshold: 0.5,
		MaxAckTokens:      2,
		Acknowledgments: []string{
			"uh", "um", "umm", "hmm", "hm", "mm", "mhm", "uh-huh", "ah", "oh", "huh",
			"ok", "okay", "yeah", "yep", "yes", "no", "right", "sure",
		},
	}
}

// Decision is the outcome of classifying one turn.
type Decision struct {
	Level  models.CleaningLevel
	Bypass bool
	// Reason is a short diagnostic recorded as the turn's context_detected when no cleaning runs.
	Reason string
}

// NeedsBackend reports whether the decision requires a cleaning call.
func (d Decision) NeedsBackend() bool {
	return !d.Bypass && d.Level != models.LevelNone
}

// Classifier applies the bypass, noise and level rules in order.
type Classifier struct {
	mu     sync.RWMutex
	policy NoisePolicy
	acks   map[string]struct{}
}

// New creates a classifier with the given policy.
func New(policy NoisePolicy) *Classifier {
	c := &Classifier{}
	c.SetPolicy(policy)
	return c
}

// SetPolicy swaps the noise policy. Safe to call while classifying.
func (c *Classifier) SetPolicy(policy NoisePolicy) {
	acks := make(map[string]struct{}, len(policy.Acknowledgments))
	for _, a := range policy.Acknowledgments {
		acks[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	c.mu.Lock()
	c.policy = policy
	c.acks = acks
	c.mu.Unlock()
}

// Policy returns the active policy.
func (c *Classifier) Policy() NoisePolicy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.policy
}

// Classify decides how turn should be processed under settings.
func (c *Classifier) Classify(turn *models.Turn, settings models.ConversationSettings) Decision {
	if turn.Speaker.IsAssistant() {
		return Decision{Level: models.LevelNone, Bypass: true, Reason: fmt.Sprintf("bypass: %s turn", turn.Speaker)}
	}

	if settings.SkipTranscriptionErrors {
		if noisy, why := c.IsLikelyNoise(turn.RawText); noisy {
			return Decision{Level: models.LevelNone, Reason: "transcription noise: " + why}
		}
	}

	level := settings.CleaningLevel
	if turn.LevelOverride.Valid() {
		level = turn.LevelOverride
	}
	if !level.Valid() {
		level = models.LevelFull
	}
	if level == models.LevelNone {
		return Decision{Level: models.LevelNone, Reason: "cleaning disabled"}
	}
	return Decision{Level: level}
}

// IsLikelyNoise applies the script-ratio and acknowledgment heuristics to text.
func (c *Classifier) IsLikelyNoise(text string) (bool, string) {
	c.mu.RLock()
	policy := c.policy
	acks := c.acks
	c.mu.RUnlock()

	letters, nonLatin := 0, 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.Is(unicode.Latin, r) {
			nonLatin++
		}
	}
	if letters == 0 {
		return true, "no letters"
	}
	if ratio := float64(nonLatin) / float64(letters); ratio > policy.NonLatinThreshold {
		return true, fmt.Sprintf("non-latin ratio %.2f", ratio)
	}

	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) > policy.MaxAckTokens {
		return false, ""
	}
	for _, tok := range tokens {
		tok = strings.TrimFunc(tok, func(r rune) bool { return unicode.IsPunct(r) && r != '-' })
		if _, ok := acks[tok]; !ok {
			return false, ""
		}
	}
	return true, "bare acknowledgment"
}
