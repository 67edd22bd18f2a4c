package model

// StreamEventType identifies a server-push stream event.
type StreamEventType string

const (
	// EventMeta opens the stream with the conversation and user message ids.
	EventMeta StreamEventType = "meta"
	// EventToken carries an incremental text fragment, tagged by model.
	EventToken StreamEventType = "token"
	// EventDone signals one model's terminal success.
	EventDone StreamEventType = "done"
	// EventError signals one model's terminal failure.
	EventError StreamEventType = "error"
)

// MetaEvent is the payload of the opening meta event.
type MetaEvent struct {
	ConversationID string `json:"conversation_id"`
	UserMessageID  string `json:"user_message_id"`
}

// TokenEvent is the payload of a token event.
type TokenEvent struct {
	ModelID string `json:"model_id"`
	Token   string `json:"token"`
	Index   int    `json:"index"`
}

// DoneEvent is the payload of a per-model done event.
type DoneEvent struct {
	ModelID            string `json:"model_id"`
	AssistantMessageID string `json:"assistant_message_id"`
	RemainingRequests  *int   `json:"remaining_requests,omitempty"`
	CreditBalance      *int64 `json:"credit_balance,omitempty"`
}

// ErrorEvent is the payload of a per-model error event.
type ErrorEvent struct {
	ModelID string `json:"model_id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
