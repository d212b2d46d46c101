package postprocessor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lumenclean/internal/models"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/pkg/logger"
)

var ErrEmptyCleanedText = errors.New("model returned empty cleaned_text")

// rewriteReply is the JSON shape requested by ResponseSchemaHint
type rewriteReply struct {
	CleanedText     string            `json:"cleaned_text"`
	Confidence      string            `json:"confidence"`
	Corrections     []correctionReply `json:"corrections"`
	ContextDetected string            `json:"context_detected"`
}

type correctionReply struct {
	Original   string `json:"original"`
	Corrected  string `json:"corrected"`
	Confidence string `json:"confidence"`
	Reason     string `json:"reason"`
}

// ParseRewriteResponse decodes a model reply into a RewriteResult.
// The model sometimes wraps its JSON in a markdown fence; that is stripped first.
func ParseRewriteResponse(content string) (*interfaces.RewriteResult, error) {
	content = StripCodeFence(content)

	var reply rewriteReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	cleaned := NormalizeWhitespace(reply.CleanedText)
	if cleaned == "" {
		return nil, ErrEmptyCleanedText
	}

	corrections := make([]models.Correction, 0, len(reply.Corrections))
	for _, c := range reply.Corrections {
		if c.Original == "" && c.Corrected == "" {
			continue
		}
		corrections = append(corrections, models.Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: models.ParseGrade(c.Confidence),
			Reason:     c.Reason,
		})
	}

	if reply.Confidence == "" {
		logger.Debug("Model reply has no confidence, defaulting to LOW")
	}

	return &interfaces.RewriteResult{
		CleanedText:     cleaned,
		Confidence:      models.ParseGrade(reply.Confidence),
		Corrections:     corrections,
		ContextDetected: strings.TrimSpace(reply.ContextDetected),
	}, nil
}

// StripCodeFence removes a surrounding ```json ... ``` block if present.
func StripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// NormalizeWhitespace trims and collapses runs of whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
