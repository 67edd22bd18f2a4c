// Package model defines data structures for the multichat core.
package model

import (
	"time"
)

// Conversation represents a conversation thread owned by a single user.
type Conversation struct {
	ID      string `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID  string `gorm:"type:varchar(64);index" json:"user_id"`
	Title   string `gorm:"type:varchar(256)" json:"title,omitempty"`
	Summary string `gorm:"type:text" json:"summary,omitempty"`

	// ExchangeCount is the number of completed user/assistant exchanges,
	// used to drive the summarization cadence.
	ExchangeCount int `json:"exchange_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int64          `json:"total"`
	HasMore       bool           `json:"has_more"`
}
