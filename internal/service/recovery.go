package service

import (
	"context"
	"errors"
	"fmt"

	"lumenclean/internal/models"
	"lumenclean/pkg/logger"
)

var errInterrupted = errors.New("interrupted by restart")

// RecoveryReport summarises what Recover found in the store.
type RecoveryReport struct {
	Conversations int `json:"conversations" yaml:"conversations"`
	Interrupted   int `json:"interrupted" yaml:"interrupted"`
	Requeued      int `json:"requeued" yaml:"requeued"`
}

// Recover rebuilds in-memory state from the store: context windows are seeded
// from finished turns, turns caught mid-processing are finalised as errors and
// pending turns are queued again in submission order. Call before starting workers.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport

	finished, err := s.store.ListTurnsByState(ctx, models.StateCompleted, models.StateSkipped)
	if err != nil {
		return report, fmt.Errorf("recover finished turns: %w", err)
	}
	byConversation := make(map[string][]models.ContextEntry)
	var order []string
	for _, turn := range finished {
		if _, ok := byConversation[turn.ConversationID]; !ok {
			order = append(order, turn.ConversationID)
		}
		byConversation[turn.ConversationID] = append(byConversation[turn.ConversationID], turn.ContextEntry())
	}
	for _, id := range order {
		s.windows.Seed(id, byConversation[id])
	}
	report.Conversations = len(order)

	settingsCache := make(map[string]models.ConversationSettings)
	settingsFor := func(id string) (models.ConversationSettings, error) {
		if settings, ok := settingsCache[id]; ok {
			return settings, nil
		}
		conv, err := s.store.GetConversation(ctx, id)
		if err != nil {
			return models.ConversationSettings{}, err
		}
		settingsCache[id] = conv.Settings()
		return conv.Settings(), nil
	}

	interrupted, err := s.store.ListTurnsByState(ctx, models.StateProcessing)
	if err != nil {
		return report, fmt.Errorf("recover interrupted turns: %w", err)
	}
	for _, turn := range interrupted {
		settings, err := settingsFor(turn.ConversationID)
		if err != nil {
			return report, err
		}
		if _, err := s.cleaner.Abort(ctx, turn, settings, errInterrupted); err != nil {
			return report, err
		}
		report.Interrupted++
	}

	pending, err := s.store.ListTurnsByState(ctx, models.StatePending)
	if err != nil {
		return report, fmt.Errorf("recover pending turns: %w", err)
	}
	for _, turn := range pending {
		settings, err := settingsFor(turn.ConversationID)
		if err != nil {
			return report, err
		}
		if _, err := s.queue.Restore(turn, settings); err != nil {
			return report, fmt.Errorf("requeue turn %s: %w", turn.ID, err)
		}
		report.Requeued++
	}

	logger.Info("Recovered state from store",
		"conversations", report.Conversations,
		"interrupted", report.Interrupted,
		"requeued", report.Requeued)
	return report, nil
}
