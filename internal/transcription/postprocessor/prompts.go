package postprocessor

import (
	"fmt"
	"strings"

	"lumenclean/internal/models"
	"lumenclean/internal/transcription/interfaces"
)

// SystemPromptLight is used for light cleaning: punctuation and fillers only
const SystemPromptLight = `You are a transcript cleaner for a spoken conversation between a user and an assistant named Lumen.
You receive one raw speech-to-text turn spoken by the user, plus recent cleaned turns as context.

Rules:
1. ADD PUNCTUATION and capitalisation where a reader would expect it
2. REMOVE FILLERS such as "um", "uh", "you know" and stutters ("I I I think")
3. Do NOT change word choice, meaning or tone
4. If the turn is already clean, return it unchanged

Return valid JSON only, no markdown code blocks or explanations.`

// SystemPromptFull is used for full cleaning: also repairs misrecognised words from context
const SystemPromptFull = `You are a transcript cleaner for a spoken conversation between a user and an assistant named Lumen.
You receive one raw speech-to-text turn spoken by the user, plus recent cleaned turns as context.

Rules:
1. ADD PUNCTUATION and capitalisation where a reader would expect it
2. REMOVE FILLERS such as "um", "uh", "you know" and stutters
3. FIX RECOGNITION ERRORS: if a word or phrase makes no sense given the context, replace it with what was most likely said
   (e.g. "I am the vector of Marketing" -> "I am the Director of Marketing")
4. Preserve meaning, tone and the speaker's own phrasing everywhere else
5. Never answer the user, never add content that was not spoken

Return valid JSON only, no markdown code blocks or explanations.`

// ResponseSchemaHint describes the JSON reply the model must produce
const ResponseSchemaHint = `{
  "cleaned_text": "the cleaned turn",
  "confidence": "HIGH | MEDIUM | LOW",
  "corrections": [
    {"original": "text as heard", "corrected": "text as cleaned", "confidence": "HIGH | MEDIUM | LOW", "reason": "why"}
  ],
  "context_detected": "one short phrase describing what the conversation is about"
}`

// UserPromptTemplate carries the context block, the raw turn and the schema
const UserPromptTemplate = `Recent conversation (already cleaned, oldest first):
%s

Raw turn to clean (speaker: %s):
%s

Respond with JSON in exactly this shape:
%s`

const noContextMarker = "(no previous turns)"

// SystemPrompt selects the system prompt for the cleaning level.
func SystemPrompt(level models.CleaningLevel) string {
	if level == models.LevelLight {
		return SystemPromptLight
	}
	return SystemPromptFull
}

// BuildUserPrompt renders the context window and raw turn into the user prompt.
func BuildUserPrompt(req interfaces.RewriteRequest) string {
	return fmt.Sprintf(UserPromptTemplate,
		FormatContext(req.Context),
		req.Speaker,
		req.RawText,
		ResponseSchemaHint)
}

// FormatContext renders context entries one per line as "Speaker: text".
func FormatContext(entries []models.ContextEntry) string {
	if len(entries) == 0 {
		return noContextMarker
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", e.Speaker, e.CleanedText)
	}
	return b.String()
}
