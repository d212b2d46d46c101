// Package repository persists conversations and turns through gorm.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"lumenclean/internal/models"
)

var (
	ErrTurnNotFound         = errors.New("turn not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// TurnStore is the gorm-backed store for conversations and their turns.
type TurnStore struct {
	db *gorm.DB
}

// NewTurnStore wraps an open, migrated database.
func NewTurnStore(db *gorm.DB) *TurnStore {
	return &TurnStore{db: db}
}

// DB returns the underlying handle.
func (s *TurnStore) DB() *gorm.DB {
	return s.db
}

// CreateConversation inserts a new conversation.
func (s *TurnStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("create conversation %s: %w", conv.ID, err)
	}
	return nil
}

// GetConversation loads a conversation by id.
func (s *TurnStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
		}
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return &conv, nil
}

// UpdateSettings replaces a conversation's cleaning policy.
func (s *TurnStore) UpdateSettings(ctx context.Context, id string, settings models.ConversationSettings) (*models.Conversation, error) {
	var conv *models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Conversation
		if err := tx.First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
			}
			return err
		}
		existing.Apply(settings)
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		conv = &existing
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update settings for %s: %w", id, err)
	}
	return conv, nil
}

// AppendTurn stores a new turn at the end of its conversation, creating the
// conversation with defaults if this is its first turn. The turn's Sequence is
// assigned here. The returned conversation reflects the append.
func (s *TurnStore) AppendTurn(ctx context.Context, turn *models.Turn, defaults models.ConversationSettings) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&conv, "id = ?", turn.ConversationID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			conv = *models.NewConversation(turn.ConversationID, defaults)
			if err := tx.Create(&conv).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		turn.Sequence = len(conv.TurnIDs)
		if err := tx.Create(turn).Error; err != nil {
			return err
		}
		conv.TurnIDs = append(conv.TurnIDs, turn.ID)
		return tx.Save(&conv).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append turn to %s: %w", turn.ConversationID, err)
	}
	return &conv, nil
}

// SaveTurn writes every field of turn.
func (s *TurnStore) SaveTurn(ctx context.Context, turn *models.Turn) error {
	if err := s.db.WithContext(ctx).Save(turn).Error; err != nil {
		return fmt.Errorf("save turn %s: %w", turn.ID, err)
	}
	return nil
}

// LoadTurn reads a turn by id.
func (s *TurnStore) LoadTurn(ctx context.Context, id string) (*models.Turn, error) {
	var turn models.Turn
	if err := s.db.WithContext(ctx).First(&turn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTurnNotFound, id)
		}
		return nil, fmt.Errorf("load turn %s: %w", id, err)
	}
	return &turn, nil
}

// ListTurns returns a conversation's turns in submission order.
func (s *TurnStore) ListTurns(ctx context.Context, conversationID string) ([]*models.Turn, error) {
	var turns []*models.Turn
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("list turns for %s: %w", conversationID, err)
	}
	return turns, nil
}

// ListTurnsByState returns turns in any of the given states, grouped by
// conversation and in submission order within each.
func (s *TurnStore) ListTurnsByState(ctx context.Context, states ...models.ProcessingState) ([]*models.Turn, error) {
	var turns []*models.Turn
	err := s.db.WithContext(ctx).
		Where("state IN ?", states).
		Order("conversation_id ASC, sequence ASC").
		Find(&turns).Error
	if err != nil {
		return nil, fmt.Errorf("list turns by state: %w", err)
	}
	return turns, nil
}
