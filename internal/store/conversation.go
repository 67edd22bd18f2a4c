package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/aurelia-ai/multichat/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not visible
// to the requesting user.
var ErrNotFound = errors.New("not found")

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation owned by userID.
func (s *Store) GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns a page of the user's conversations, newest
// first.
func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int) (*model.ListConversationsResponse, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}

// DeleteConversation removes a conversation and its messages. Deletion
// is an external collaborator operation, exposed only at the boundary.
func (s *Store) DeleteConversation(ctx context.Context, userID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Conversation{})
		if res.Error != nil {
			return fmt.Errorf("delete conversation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return nil
	})
}

// UpdateConversationTitle sets the title if it is still empty.
func (s *Store) UpdateConversationTitle(ctx context.Context, id, title string) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND (title = '' OR title IS NULL)", id).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// UpdateConversationSummary replaces the rolling summary wholesale.
func (s *Store) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("summary", summary).Error
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return nil
}

// IncrementExchangeCount bumps the completed-exchange counter and
// returns the new value.
func (s *Store) IncrementExchangeCount(ctx context.Context, id string) (int, error) {
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("exchange_count", gorm.Expr("exchange_count + 1")).Error
	if err != nil {
		return 0, fmt.Errorf("increment exchange count: %w", err)
	}

	var conv model.Conversation
	if err := s.db.WithContext(ctx).Select("exchange_count").First(&conv, "id = ?", id).Error; err != nil {
		return 0, fmt.Errorf("read exchange count: %w", err)
	}
	return conv.ExchangeCount, nil
}
