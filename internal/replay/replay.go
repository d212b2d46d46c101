// Package replay feeds a recorded transcript through the cleaning pipeline
// and reports what every turn became.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"lumenclean/internal/database"
	"lumenclean/internal/models"
	"lumenclean/internal/queue"
	"lumenclean/internal/repository"
	"lumenclean/internal/service"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/pkg/logger"
)

const DefaultConversationID = "replay"

var ErrEmptyTranscript = errors.New("transcript has no turns")

// Transcript is the YAML fixture format.
//
//	conversation_id: demo
//	settings:
//	  window_size: 2
//	turns:
//	  - speaker: User
//	    text: um hi
type Transcript struct {
	ConversationID string           `yaml:"conversation_id"`
	Settings       SettingsOverride `yaml:"settings"`
	Turns          []TranscriptTurn `yaml:"turns"`
}

// SettingsOverride replaces the configured defaults field by field.
type SettingsOverride struct {
	WindowSize              *int                `yaml:"window_size"`
	CleaningLevel           string              `yaml:"cleaning_level"`
	SkipTranscriptionErrors *bool               `yaml:"skip_transcription_errors"`
	ModelParams             *models.ModelParams `yaml:"model_params"`
}

type TranscriptTurn struct {
	Speaker       string `yaml:"speaker"`
	Text          string `yaml:"text"`
	CleaningLevel string `yaml:"cleaning_level,omitempty"`
}

// Result is the YAML report written after a replay.
type Result struct {
	ConversationID string                      `yaml:"conversation_id"`
	Settings       models.ConversationSettings `yaml:"settings"`
	Turns          []TurnResult                `yaml:"turns"`
	Metrics        queue.Metrics               `yaml:"metrics"`
}

type TurnResult struct {
	Sequence         int                 `yaml:"sequence"`
	Speaker          models.Speaker      `yaml:"speaker"`
	RawText          string              `yaml:"raw_text"`
	CleanedText      string              `yaml:"cleaned_text"`
	State            string              `yaml:"state"`
	Confidence       string              `yaml:"confidence"`
	CleaningApplied  bool                `yaml:"cleaning_applied"`
	Corrections      []models.Correction `yaml:"corrections,omitempty"`
	ContextDetected  string              `yaml:"context_detected,omitempty"`
	ModelUsed        string              `yaml:"model_used,omitempty"`
	ProcessingTimeMS int64               `yaml:"processing_time_ms"`
}

// Load decodes and validates a transcript.
func Load(r io.Reader) (*Transcript, error) {
	var tr Transcript
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tr); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if tr.ConversationID == "" {
		tr.ConversationID = DefaultConversationID
	}
	if err := models.ValidateConversationID(tr.ConversationID); err != nil {
		return nil, err
	}
	if len(tr.Turns) == 0 {
		return nil, ErrEmptyTranscript
	}
	for i, t := range tr.Turns {
		if _, err := models.ParseSpeaker(t.Speaker); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		if t.CleaningLevel != "" {
			if _, err := models.ParseCleaningLevel(t.CleaningLevel); err != nil {
				return nil, fmt.Errorf("turn %d: %w", i, err)
			}
		}
	}
	return &tr, nil
}

// LoadFile reads a transcript from path.
func LoadFile(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Apply overlays the override on base.
func (o SettingsOverride) Apply(base models.ConversationSettings) (models.ConversationSettings, error) {
	s := base
	if o.WindowSize != nil {
		s.WindowSize = *o.WindowSize
	}
	if o.CleaningLevel != "" {
		level, err := models.ParseCleaningLevel(o.CleaningLevel)
		if err != nil {
			return s, err
		}
		s.CleaningLevel = level
	}
	if o.SkipTranscriptionErrors != nil {
		s.SkipTranscriptionErrors = *o.SkipTranscriptionErrors
	}
	if o.ModelParams != nil {
		s.ModelParams = *o.ModelParams
	}
	return s, nil
}

// Run replays tr against backend on a throwaway in-memory store. opts supplies
// the defaults the transcript's settings are laid over.
func Run(ctx context.Context, tr *Transcript, backend interfaces.CleaningBackend, opts service.Options, workers int) (*Result, error) {
	settings, err := tr.Settings.Apply(opts.Defaults)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(opts.MaxWindow); err != nil {
		return nil, err
	}
	opts.Defaults = settings

	db, err := database.Open(database.MemoryPath)
	if err != nil {
		return nil, err
	}
	defer database.Close(db)

	svc := service.New(repository.NewTurnStore(db), backend, opts)
	if err := svc.Start(ctx, workers, false); err != nil {
		return nil, err
	}
	defer svc.Shutdown(context.WithoutCancel(ctx))

	g, gctx := errgroup.WithContext(ctx)

	sub, err := svc.SubscribeRealtime(gctx, tr.ConversationID)
	if err != nil {
		return nil, err
	}
	defer svc.Unsubscribe(sub)

	logger.Info("Replaying transcript",
		"conversation_id", tr.ConversationID,
		"turns", len(tr.Turns),
		"backend", backend.Name(),
		"workers", workers)

	g.Go(func() error {
		for i, t := range tr.Turns {
			speaker, _ := models.ParseSpeaker(t.Speaker)
			var topts service.TurnOptions
			if t.CleaningLevel != "" {
				topts.CleaningLevel, _ = models.ParseCleaningLevel(t.CleaningLevel)
			}
			if _, err := svc.CreateTurn(gctx, tr.ConversationID, speaker, t.Text, topts); err != nil {
				return fmt.Errorf("submit turn %d: %w", i, err)
			}
		}
		return nil
	})

	finished := make([]*models.Turn, 0, len(tr.Turns))
	g.Go(func() error {
		for len(finished) < len(tr.Turns) {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return fmt.Errorf("subscription closed after %d of %d turns", len(finished), len(tr.Turns))
				}
				finished = append(finished, ev.Turn)
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// drained so the metrics below include the last job
	if err := svc.Shutdown(ctx); err != nil {
		return nil, err
	}

	sort.Slice(finished, func(i, j int) bool { return finished[i].Sequence < finished[j].Sequence })

	res := &Result{
		ConversationID: tr.ConversationID,
		Settings:       settings,
		Turns:          make([]TurnResult, 0, len(finished)),
		Metrics:        svc.GetQueueStatus(tr.ConversationID),
	}
	for _, t := range finished {
		res.Turns = append(res.Turns, TurnResult{
			Sequence:         t.Sequence,
			Speaker:          t.Speaker,
			RawText:          t.RawText,
			CleanedText:      t.CleanedText,
			State:            string(t.State),
			Confidence:       string(t.Confidence),
			CleaningApplied:  t.CleaningApplied,
			Corrections:      t.Corrections,
			ContextDetected:  t.ContextDetected,
			ModelUsed:        t.ModelUsed,
			ProcessingTimeMS: t.ProcessingTimeMS,
		})
	}
	return res, nil
}

// WriteYAML encodes res to w.
func WriteYAML(w io.Writer, res *Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(res); err != nil {
		return err
	}
	return enc.Close()
}
