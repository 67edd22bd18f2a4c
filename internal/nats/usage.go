package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/model"
)

const (
	// UsageStreamName holds the usage audit stream.
	UsageStreamName = "USAGE"

	usageSubjectPrefix = "usage"
)

// UsagePublisher publishes ledger transactions and completed exchanges
// to the usage audit stream. Publishing is best-effort: a broker outage
// never fails a user request.
type UsagePublisher struct {
	client *Client
}

// NewUsagePublisher creates a usage publisher.
func NewUsagePublisher(client *Client) *UsagePublisher {
	return &UsagePublisher{client: client}
}

// EnsureStream ensures the usage stream exists.
func (p *UsagePublisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, UsageStreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        UsageStreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", usageSubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Ledger transactions and completed exchanges",
	})
	if err != nil {
		return fmt.Errorf("failed to create usage stream: %w", err)
	}
	return nil
}

// PublishTransaction publishes a credit transaction audit event.
func (p *UsagePublisher) PublishTransaction(ctx context.Context, tx *model.CreditTransaction) {
	subject := fmt.Sprintf("%s.tx.%s.%s", usageSubjectPrefix, tx.UserID, tx.Type)
	data, err := json.Marshal(tx)
	if err != nil {
		return
	}
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.client.logger.Warn("failed to publish transaction event", zap.Error(err))
	}
}

// ExchangeEvent records one completed model exchange.
type ExchangeEvent struct {
	ConversationID string    `json:"conversation_id"`
	ModelID        string    `json:"model_id"`
	CompletedAt    time.Time `json:"completed_at"`
}

// PublishExchange publishes a completed-exchange audit event.
func (p *UsagePublisher) PublishExchange(ctx context.Context, conversationID, modelID string) {
	subject := fmt.Sprintf("%s.exchange.%s", usageSubjectPrefix, modelID)
	data, err := json.Marshal(ExchangeEvent{
		ConversationID: conversationID,
		ModelID:        modelID,
		CompletedAt:    time.Now(),
	})
	if err != nil {
		return
	}
	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		p.client.logger.Warn("failed to publish exchange event", zap.Error(err))
	}
}
