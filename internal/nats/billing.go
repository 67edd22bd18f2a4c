package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/ledger"
	"github.com/aurelia-ai/multichat/internal/registry"
	"github.com/aurelia-ai/multichat/pkg/logger"
)

const (
	// BillingStreamName holds credit-grant events emitted by the
	// billing collaborator.
	BillingStreamName = "BILLING"

	billingSubjectPrefix = "billing.grant"
)

// GrantEvent is the credit-grant event shape the billing collaborator
// emits. Type is "monthly", "purchase" or "admin".
type GrantEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Tier      string `json:"tier,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// BillingConsumer applies credit-grant events to the ledger. Grants
// are idempotent per (user, period) or per purchase reference, so
// redelivery is safe.
type BillingConsumer struct {
	client   *Client
	ledger   *ledger.Ledger
	registry *registry.Registry
	logger   *logger.Logger
	cancel   func()
}

// StartBillingConsumer ensures the billing stream exists and begins
// consuming grant events with a durable consumer.
func StartBillingConsumer(ctx context.Context, client *Client, led *ledger.Ledger, reg *registry.Registry) (*BillingConsumer, error) {
	js := client.JetStream()

	if _, err := js.Stream(ctx, BillingStreamName); err != nil {
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        BillingStreamName,
			Subjects:    []string{fmt.Sprintf("%s.>", billingSubjectPrefix)},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Credit-grant events from the billing collaborator",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create billing stream: %w", err)
		}
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, BillingStreamName, jetstream.ConsumerConfig{
		Durable:       "multichat-grants",
		FilterSubject: fmt.Sprintf("%s.>", billingSubjectPrefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create billing consumer: %w", err)
	}

	bc := &BillingConsumer{client: client, ledger: led, registry: reg, logger: client.logger}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		bc.handle(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start billing consumer: %w", err)
	}
	bc.cancel = cc.Stop

	return bc, nil
}

// Stop halts consumption.
func (c *BillingConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *BillingConsumer) handle(msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var event GrantEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		c.logger.Warn("malformed grant event", zap.Error(err))
		msg.Term()
		return
	}

	var err error
	switch event.Type {
	case "monthly":
		tier := c.registry.Tier(event.Tier)
		err = c.ledger.ApplyMonthlyGrant(ctx, event.UserID, tier.MonthlyCredits, tier.RolloverCap)
	case "purchase":
		err = c.ledger.ApplyPurchase(ctx, event.UserID, event.Amount, event.Reference)
	case "admin":
		err = c.ledger.ApplyAdminGrant(ctx, event.UserID, event.Amount, event.Reference)
	default:
		c.logger.Warn("unknown grant type", zap.String("type", event.Type))
		msg.Term()
		return
	}

	if err != nil {
		c.logger.Error("failed to apply grant",
			zap.String("user_id", event.UserID),
			zap.String("type", event.Type),
			zap.Error(err))
		msg.Nak()
		return
	}
	msg.Ack()
}
