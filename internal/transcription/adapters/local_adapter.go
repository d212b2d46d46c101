package adapters

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lumenclean/internal/models"
	"lumenclean/internal/transcription/interfaces"
)

// fillerWords are dropped by the local adapter at every level
var fillerWords = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhh": true, "er": true, "erm": true, "hmm": true,
}

// LocalAdapter is an offline rule-based cleaner. It removes fillers, collapses
// immediate word repetitions (full level only), capitalises and terminates the sentence.
// It never fails on non-empty input.
type LocalAdapter struct {
	*BaseAdapter
}

// NewLocalAdapter creates the offline adapter
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{BaseAdapter: NewBaseAdapter("local", "rules-v1")}
}

// Rewrite applies the cleanup rules to req.RawText
func (a *LocalAdapter) Rewrite(ctx context.Context, req interfaces.RewriteRequest) (*interfaces.RewriteResult, error) {
	startTime := time.Now()
	if err := a.ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(req.RawText)
	kept := make([]string, 0, len(words))
	var corrections []models.Correction

	for _, w := range words {
		bare := strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
		if fillerWords[bare] {
			corrections = append(corrections, models.Correction{
				Original:   w,
				Corrected:  "",
				Confidence: models.ConfidenceHigh,
				Reason:     "filler word",
			})
			continue
		}
		if req.Level == models.LevelFull && len(kept) > 0 && strings.EqualFold(kept[len(kept)-1], w) {
			corrections = append(corrections, models.Correction{
				Original:   w + " " + w,
				Corrected:  w,
				Confidence: models.ConfidenceMedium,
				Reason:     "repeated word",
			})
			continue
		}
		kept = append(kept, w)
	}

	if len(kept) == 0 {
		// nothing but fillers, keep the turn as spoken
		return &interfaces.RewriteResult{
			CleanedText:    req.RawText,
			Confidence:     models.ConfidenceLow,
			ProcessingTime: time.Since(startTime),
			ModelUsed:      a.Name(),
		}, nil
	}

	cleaned := capitalizeFirst(strings.Join(kept, " "))
	last, _ := utf8.DecodeLastRuneInString(cleaned)
	if !unicode.IsPunct(last) {
		cleaned += "."
	}

	confidence := models.ConfidenceHigh
	if len(corrections) > 0 {
		confidence = models.ConfidenceMedium
	}

	return &interfaces.RewriteResult{
		CleanedText:    cleaned,
		Confidence:     confidence,
		Corrections:    corrections,
		ProcessingTime: time.Since(startTime),
		ModelUsed:      a.Name(),
	}, nil
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
