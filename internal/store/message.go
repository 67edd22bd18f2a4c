package store

import (
	"context"
	"fmt"

	"github.com/aurelia-ai/multichat/internal/model"
)

// AppendMessage persists a message. Messages are immutable; there is no
// update path.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages returns the conversation's messages in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// GetMessage loads a single message within a conversation.
func (s *Store) GetMessage(ctx context.Context, conversationID, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", id, conversationID).
		First(&msg).Error
	if err != nil {
		return nil, ErrNotFound
	}
	return &msg, nil
}
