// Package service is the entry point for submitting turns and observing their
// cleaning. It ties the store, orchestrator, queue and publisher together.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lumenclean/internal/config"
	"lumenclean/internal/models"
	"lumenclean/internal/queue"
	"lumenclean/internal/realtime"
	"lumenclean/internal/transcription/classifier"
	"lumenclean/internal/transcription/cleaner"
	"lumenclean/internal/transcription/interfaces"
	"lumenclean/internal/transcription/window"
	"lumenclean/pkg/logger"
)

var ErrEmptyText = errors.New("raw text is empty")

// TurnStore is the persistence the service needs.
type TurnStore interface {
	AppendTurn(ctx context.Context, turn *models.Turn, defaults models.ConversationSettings) (*models.Conversation, error)
	SaveTurn(ctx context.Context, turn *models.Turn) error
	LoadTurn(ctx context.Context, id string) (*models.Turn, error)
	ListTurns(ctx context.Context, conversationID string) ([]*models.Turn, error)
	ListTurnsByState(ctx context.Context, states ...models.ProcessingState) ([]*models.Turn, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateSettings(ctx context.Context, id string, settings models.ConversationSettings) (*models.Conversation, error)
}

// TurnOptions are optional per-turn submission parameters.
type TurnOptions struct {
	// CleaningLevel overrides the conversation's level for this turn only.
	CleaningLevel models.CleaningLevel
}

// Service owns the processing pipeline.
type Service struct {
	store      TurnStore
	classifier *classifier.Classifier
	windows    *window.Manager
	cleaner    *cleaner.Cleaner
	queue      *queue.Queue
	publisher  *realtime.Publisher

	// held from store append to enqueue so queue order matches Sequence
	submitting *convLocks

	defaults models.ConversationSettings
}

// Options carries the tunables New needs.
type Options struct {
	Defaults          models.ConversationSettings
	MaxWindow         int
	Timeout           time.Duration
	NoisePolicy       classifier.NoisePolicy
	MaxPending        int
	SubscriberBacklog int
}

// New assembles the pipeline around store and backend. Workers are not started.
func New(store TurnStore, backend interfaces.CleaningBackend, opts Options) *Service {
	cls := classifier.New(opts.NoisePolicy)
	windows := window.NewManager(opts.MaxWindow)

	cl := cleaner.New(backend, cls, windows, store, cleaner.WithTimeout(opts.Timeout))

	pub := realtime.NewPublisher(realtime.WithBacklog(opts.SubscriberBacklog))
	q := queue.New(cl, queue.WithPublisher(pub), queue.WithMaxPending(opts.MaxPending))

	return &Service{
		store:      store,
		classifier: cls,
		windows:    windows,
		cleaner:    cl,
		queue:      q,
		publisher:  pub,
		submitting: newConvLocks(),
		defaults:   opts.Defaults,
	}
}

// NewFromConfig builds a Service from loaded configuration.
func NewFromConfig(cfg *config.Config, store TurnStore, backend interfaces.CleaningBackend) (*Service, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return New(store, backend, opts), nil
}

// OptionsFromConfig maps loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	defaults, err := cfg.DefaultSettings()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Defaults:          defaults,
		MaxWindow:         cfg.Cleaning.MaxWindow,
		Timeout:           cfg.Cleaning.Timeout,
		NoisePolicy:       NoisePolicyFromConfig(cfg.Noise),
		MaxPending:        cfg.Queue.MaxPending,
		SubscriberBacklog: cfg.Realtime.SubscriberBacklog,
	}, nil
}

// NoisePolicyFromConfig converts the noise section of the config.
func NoisePolicyFromConfig(nc config.NoiseConfig) classifier.NoisePolicy {
	policy := classifier.DefaultNoisePolicy()
	if nc.NonLatinThreshold > 0 {
		policy.NonLatinThreshold = nc.NonLatinThreshold
	}
	if nc.MaxAckTokens > 0 {
		policy.MaxAckTokens = nc.MaxAckTokens
	}
	if len(nc.Acknowledgments) > 0 {
		policy.Acknowledgments = nc.Acknowledgments
	}
	return policy
}

// ApplyConfig hot-swaps the settings that may change without a restart.
func (s *Service) ApplyConfig(cfg *config.Config) {
	s.classifier.SetPolicy(NoisePolicyFromConfig(cfg.Noise))
	logger.Info("Noise policy updated", "non_latin_threshold", cfg.Noise.NonLatinThreshold)
}

// Start optionally recovers unfinished work from the store, then launches workers.
func (s *Service) Start(ctx context.Context, workers int, recoverState bool) error {
	if recoverState {
		if _, err := s.Recover(ctx); err != nil {
			return err
		}
	}
	return s.queue.StartWorkers(workers)
}

// Shutdown drains the queue until ctx ends, then closes every subscription.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.queue.Stop(ctx)
	s.publisher.Close()
	return err
}

// CreateTurn validates and stores a new turn, then queues it for cleaning.
// It returns the turn id; the cleaned result arrives through SubscribeRealtime.
func (s *Service) CreateTurn(ctx context.Context, conversationID string, speaker models.Speaker, rawText string, opts TurnOptions) (string, error) {
	if err := models.ValidateConversationID(conversationID); err != nil {
		return "", err
	}
	if _, err := models.ParseSpeaker(string(speaker)); err != nil {
		return "", err
	}
	if strings.TrimSpace(rawText) == "" {
		return "", ErrEmptyText
	}
	if opts.CleaningLevel != "" && !opts.CleaningLevel.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidLevel, opts.CleaningLevel)
	}
	if err := s.queue.CanAccept(); err != nil {
		return "", err
	}

	turn := models.NewTurn(conversationID, speaker, rawText)
	turn.LevelOverride = opts.CleaningLevel

	unlock := s.submitting.lock(conversationID)
	defer unlock()

	conv, err := s.store.AppendTurn(ctx, turn, s.defaults)
	if err != nil {
		return "", err
	}

	jobID, err := s.queue.Enqueue(turn, conv.Settings())
	if err != nil {
		// the stored turn stays pending and is picked up by the next Recover
		logger.Error("Turn stored but not queued",
			"turn_id", turn.ID,
			"conversation_id", conversationID,
			"error", err)
		return "", err
	}

	logger.Debug("Turn submitted",
		"turn_id", turn.ID,
		"job_id", jobID,
		"conversation_id", conversationID,
		"speaker", speaker,
		"sequence", turn.Sequence)
	return turn.ID, nil
}

// GetQueueStatus returns queue metrics, scoped to a conversation when one is given.
func (s *Service) GetQueueStatus(conversationID string) queue.Metrics {
	return s.queue.Status(conversationID)
}

// SubscribeRealtime streams finished turns of a conversation until ctx ends
// or Unsubscribe is called.
func (s *Service) SubscribeRealtime(ctx context.Context, conversationID string) (*realtime.Subscription, error) {
	sub, err := s.publisher.Subscribe(conversationID)
	if err != nil {
		return nil, err
	}
	context.AfterFunc(ctx, func() { s.publisher.Unsubscribe(sub) })
	return sub, nil
}

// Unsubscribe ends a realtime subscription.
func (s *Service) Unsubscribe(sub *realtime.Subscription) {
	s.publisher.Unsubscribe(sub)
}

// GetTurn loads a turn by id.
func (s *Service) GetTurn(ctx context.Context, id string) (*models.Turn, error) {
	return s.store.LoadTurn(ctx, id)
}

// ListTurns returns a conversation's turns in submission order.
func (s *Service) ListTurns(ctx context.Context, conversationID string) ([]*models.Turn, error) {
	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.store.ListTurns(ctx, conversationID)
}

// GetConversation loads a conversation with its settings.
func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// UpdateSettings replaces a conversation's settings. Turns already queued keep
// the settings they were submitted with, except that a smaller window applies
// to them immediately.
func (s *Service) UpdateSettings(ctx context.Context, id string, settings models.ConversationSettings) (*models.Conversation, error) {
	if err := settings.Validate(s.windows.MaxWindow()); err != nil {
		return nil, err
	}
	conv, err := s.store.UpdateSettings(ctx, id, settings)
	if err != nil {
		return nil, err
	}
	s.windows.Configure(id, settings.WindowSize)
	logger.Info("Conversation settings updated",
		"conversation_id", id,
		"window_size", settings.WindowSize,
		"cleaning_level", settings.CleaningLevel)
	return conv, nil
}

// Defaults returns the settings new conversations receive.
func (s *Service) Defaults() models.ConversationSettings {
	return s.defaults
}
