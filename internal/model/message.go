package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message represents a persisted conversation message. Messages are
// immutable once written. A user message is written exactly once per
// request and reused as the parent of every concurrently dispatched
// model's reply.
type Message struct {
	ID             string `gorm:"primaryKey;type:char(36)" json:"id"`
	ConversationID string `gorm:"type:char(36);index:idx_conv_created" json:"conversation_id"`

	// ParentID links an assistant reply to the user message it answers.
	// Multiple assistant messages share one parent when several models
	// answer the same question.
	ParentID *string `gorm:"type:char(36)" json:"parent_id,omitempty"`

	Role    Role   `gorm:"type:varchar(16)" json:"role"`
	Content string `gorm:"type:longtext" json:"content"`

	// ModelID is the registry id of the model that produced an assistant
	// message; empty for user messages.
	ModelID string `gorm:"type:varchar(64)" json:"model_id,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_conv_created" json:"created_at"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}
