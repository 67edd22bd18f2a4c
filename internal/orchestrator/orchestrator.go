// Package orchestrator is the top-level request handler: it gates a
// request against entitlements, persists the shared user message, fans
// a single message out to one or more provider adapters concurrently,
// multiplexes their token streams onto one channel, and reconciles the
// usage ledger and message store as each stream completes.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/assembler"
	"github.com/aurelia-ai/multichat/internal/availability"
	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/ledger"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/provider"
	"github.com/aurelia-ai/multichat/internal/registry"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
	"github.com/aurelia-ai/multichat/pkg/metrics"
)

// ConversationStore is the persistence surface the orchestrator needs.
// *store.Store implements it; tests use an in-memory fake.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, conversationID, id string) (*model.Message, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	UpdateConversationSummary(ctx context.Context, id, summary string) error
	IncrementExchangeCount(ctx context.Context, id string) (int, error)
	GetOverride(ctx context.Context, userID string) (*model.UserOverride, error)
}

// Publisher receives exchange audit events. May be nil.
type Publisher interface {
	PublishExchange(ctx context.Context, conversationID, modelID string)
}

// Event is one multiplexed stream element. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type  model.StreamEventType
	Token *model.TokenEvent
	Done  *model.DoneEvent
	Error *model.ErrorEvent
}

// Request is one user chat request, possibly fanned out to several
// models.
type Request struct {
	UserID string
	Tier   string

	// ConversationID is empty for a new conversation.
	ConversationID string
	Content        string
	ModelIDs       []string

	// AlternativeOf names an assistant message id; the dispatch then
	// produces an independent answer to that message's question and no
	// new user message is persisted.
	AlternativeOf string

	CustomInstructions string
}

// Dispatched is the accepted request: ids for the meta event plus the
// multiplexed event stream. The channel closes once every dispatched
// model reaches a terminal state.
type Dispatched struct {
	ConversationID string
	UserMessageID  string
	Events         <-chan Event
}

// Orchestrator wires the request-handling core together.
type Orchestrator struct {
	registry  *registry.Registry
	cache     *availability.Cache
	ledger    *ledger.Ledger
	store     ConversationStore
	providers map[string]provider.Client
	publisher Publisher
	cfg       assembler.Config
	logger    *logger.Logger
	now       func() time.Time

	// utilityModel is the registry model used for title generation and
	// summary regeneration.
	utilityModel string
}

// New creates an orchestrator. now may be nil for the wall clock.
func New(
	reg *registry.Registry,
	cache *availability.Cache,
	led *ledger.Ledger,
	st ConversationStore,
	providers map[string]provider.Client,
	pub Publisher,
	cfg assembler.Config,
	utilityModel string,
	log *logger.Logger,
	now func() time.Time,
) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		registry:     reg,
		cache:        cache,
		ledger:       led,
		store:        st,
		providers:    providers,
		publisher:    pub,
		cfg:          cfg,
		utilityModel: utilityModel,
		logger:       log,
		now:          now,
	}
}

// dispatchPlan is one validated model dispatch.
type dispatchPlan struct {
	model  registry.ModelConfig
	client provider.Client
}

// Dispatch validates and gates the request, persists the shared ids,
// and fans out. Entitlement rejections come back synchronously as
// *entitlement.Rejection before anything is persisted.
func (o *Orchestrator) Dispatch(ctx context.Context, req Request) (*Dispatched, error) {
	ov, err := o.store.GetOverride(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	eff := entitlement.Resolve(o.registry.Tier(req.Tier), ov, o.now())

	if req.AlternativeOf == "" && len(req.Content) > eff.InputCharCap {
		return nil, &entitlement.Rejection{
			Code:    entitlement.CodeInputTooLong,
			Message: "Your message is too long for your plan.",
		}
	}

	plans, err := o.validateModels(req.ModelIDs, eff)
	if err != nil {
		return nil, err
	}

	// Pre-check the ledger for every prospective dispatch before any
	// side effect. Each credit check is independent; concurrent debits
	// settle at the data layer.
	for _, p := range plans {
		if err := o.ledger.Check(ctx, req.UserID, eff, p.model.CreditCost); err != nil {
			return nil, err
		}
	}

	conv, firstExchange, err := o.loadOrCreateConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg, alt, err := o.prepareUserTurn(ctx, req, conv)
	if err != nil {
		return nil, err
	}

	history, err := o.store.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, err
	}
	prevModel := assembler.LastModelID(history)

	events := make(chan Event, 64)
	var wg sync.WaitGroup
	var titleOnce sync.Once

	for _, p := range plans {
		p := p
		in := assembler.Input{
			History:            history,
			Effective:          eff,
			Summary:            conv.Summary,
			ModelID:            p.model.ID,
			PrevModelID:        prevModel,
			BasePrompt:         p.model.SystemPrompt,
			CustomInstructions: req.CustomInstructions,
			Alternative:        alt,
		}
		assembled := assembler.Build(in, o.cfg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runDispatch(ctx, events, req, eff, p, conv, userMsg, assembled, firstExchange, &titleOnce)
		}()
	}

	go func() {
		wg.Wait()
		close(events)
	}()

	return &Dispatched{
		ConversationID: conv.ID,
		UserMessageID:  userMsg.ID,
		Events:         events,
	}, nil
}

func (o *Orchestrator) validateModels(ids []string, eff entitlement.Effective) ([]dispatchPlan, error) {
	if len(ids) == 0 {
		return nil, &entitlement.Rejection{
			Code:    entitlement.CodeModelNotFound,
			Message: "No model selected.",
		}
	}

	plans := make([]dispatchPlan, 0, len(ids))
	for _, id := range ids {
		mc, ok := o.registry.Model(id)
		if !ok || !mc.Enabled {
			return nil, &entitlement.Rejection{
				Code:    entitlement.CodeModelNotFound,
				Message: "Unknown model: " + id,
			}
		}
		if !eff.ModelAllowed(mc) {
			return nil, &entitlement.Rejection{
				Code:    entitlement.CodeModelNotAllowed,
				Message: "Your plan does not include this model.",
			}
		}
		if !o.cache.Lookup(mc.ID) {
			return nil, &entitlement.Rejection{
				Code:    entitlement.CodeModelUnavailable,
				Message: "This model is temporarily unavailable.",
			}
		}
		client, ok := o.providers[mc.Provider]
		if !ok {
			return nil, &entitlement.Rejection{
				Code:    entitlement.CodeModelUnavailable,
				Message: "This model is temporarily unavailable.",
			}
		}
		plans = append(plans, dispatchPlan{model: mc, client: client})
	}
	return plans, nil
}

func (o *Orchestrator) loadOrCreateConversation(ctx context.Context, req Request) (*model.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.UserID, req.ConversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, conv.ExchangeCount == 0, nil
	}

	now := o.now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// prepareUserTurn persists exactly one user message shared by every
// dispatch, or resolves the original question for an alternative
// response.
func (o *Orchestrator) prepareUserTurn(ctx context.Context, req Request, conv *model.Conversation) (*model.Message, *assembler.Alternative, error) {
	if req.AlternativeOf != "" {
		other, err := o.store.GetMessage(ctx, conv.ID, req.AlternativeOf)
		if err != nil || other.Role != model.RoleAssistant || other.ParentID == nil {
			return nil, nil, store.ErrNotFound
		}
		question, err := o.store.GetMessage(ctx, conv.ID, *other.ParentID)
		if err != nil {
			return nil, nil, err
		}
		return question, &assembler.Alternative{
			Question:     question.Content,
			OtherModelID: other.ModelID,
			OtherAnswer:  other.Content,
		}, nil
	}

	userMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Content,
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, nil, err
	}
	return userMsg, nil, nil
}

// runDispatch drives one model from pending through active to a
// terminal state. A failure here never touches sibling dispatches.
func (o *Orchestrator) runDispatch(
	ctx context.Context,
	events chan<- Event,
	req Request,
	eff entitlement.Effective,
	p dispatchPlan,
	conv *model.Conversation,
	userMsg *model.Message,
	assembled assembler.Context,
	firstExchange bool,
	titleOnce *sync.Once,
) {
	start := o.now()
	metrics.ActiveDispatches.Inc()
	defer metrics.ActiveDispatches.Dec()

	stream, err := p.client.StreamCompletion(ctx, p.model.ProviderModelID, assembled.System, assembled.Messages)
	if err != nil {
		o.emitProviderError(events, p, err)
		metrics.DispatchDuration.WithLabelValues(p.model.ID, "failed").Observe(o.now().Sub(start).Seconds())
		return
	}

	var content string
	index := 0
	for frag := range stream {
		if frag.Err != nil {
			o.emitProviderError(events, p, frag.Err)
			metrics.DispatchDuration.WithLabelValues(p.model.ID, "failed").Observe(o.now().Sub(start).Seconds())
			return
		}
		content += frag.Text
		events <- Event{Type: model.EventToken, Token: &model.TokenEvent{
			ModelID: p.model.ID,
			Token:   frag.Text,
			Index:   index,
		}}
		index++
		metrics.TokensStreamed.WithLabelValues(p.model.ID).Inc()
	}

	// The client going away mid-stream means the work was not
	// delivered: skip persistence and skip the charge.
	if ctx.Err() != nil {
		o.logger.Info("dispatch canceled",
			zap.String("conversation_id", conv.ID),
			zap.String("model_id", p.model.ID))
		metrics.DispatchDuration.WithLabelValues(p.model.ID, "canceled").Observe(o.now().Sub(start).Seconds())
		return
	}

	// Persistence and the debit run decoupled from the client
	// connection: the work was delivered, the books must balance.
	bg := context.WithoutCancel(ctx)

	assistantMsg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conv.ID,
		ParentID:       &userMsg.ID,
		Role:           model.RoleAssistant,
		Content:        content,
		ModelID:        p.model.ID,
		CreatedAt:      o.now(),
	}
	if err := o.store.AppendMessage(bg, assistantMsg); err != nil {
		// A failed write must not debit the ledger.
		o.logger.Error("failed to persist assistant message",
			zap.String("conversation_id", conv.ID),
			zap.String("model_id", p.model.ID),
			zap.Error(err))
		events <- Event{Type: model.EventError, Error: &model.ErrorEvent{
			ModelID: p.model.ID,
			Code:    "internal_error",
			Message: "Failed to save the response.",
		}}
		metrics.DispatchDuration.WithLabelValues(p.model.ID, "failed").Observe(o.now().Sub(start).Seconds())
		return
	}

	done := &model.DoneEvent{
		ModelID:            p.model.ID,
		AssistantMessageID: assistantMsg.ID,
	}
	switch eff.Mode {
	case model.ModeQuota:
		remaining, err := o.ledger.CommitQuota(bg, req.UserID, eff, len(req.Content))
		if err != nil {
			o.logger.Error("failed to commit quota", zap.Error(err))
		} else {
			done.RemainingRequests = &remaining
		}
	case model.ModeCredit:
		balance, err := o.ledger.Debit(bg, req.UserID, p.model.ID, p.model.CreditCost)
		if err != nil {
			// Pre-checked, but a sibling debit may have raced us past
			// the balance. The data layer rejected; the response was
			// already delivered, so log and move on.
			o.logger.Warn("post-completion debit rejected",
				zap.String("model_id", p.model.ID),
				zap.Error(err))
		} else {
			done.CreditBalance = &balance
		}
	}

	if firstExchange {
		titleOnce.Do(func() {
			go o.generateTitle(bg, conv.ID, userMsg.Content, content)
		})
	}

	exchanges, err := o.store.IncrementExchangeCount(bg, conv.ID)
	if err != nil {
		o.logger.Error("failed to increment exchange count", zap.Error(err))
	} else if eff.Summarize && assembler.SummaryDue(exchanges, o.cfg.SummaryCadence) {
		go o.regenerateSummary(bg, conv.ID)
	}

	if o.publisher != nil {
		o.publisher.PublishExchange(bg, conv.ID, p.model.ID)
	}

	events <- Event{Type: model.EventDone, Done: done}
	metrics.DispatchDuration.WithLabelValues(p.model.ID, "completed").Observe(o.now().Sub(start).Seconds())
}

func (o *Orchestrator) emitProviderError(events chan<- Event, p dispatchPlan, err error) {
	kind := p.client.Classify(err)
	if kind == provider.KindCanceled || errors.Is(err, context.Canceled) {
		// The client is gone; nobody is listening for this error.
		return
	}
	o.logger.Warn("provider stream failed",
		zap.String("model_id", p.model.ID),
		zap.Error(err))
	events <- Event{Type: model.EventError, Error: &model.ErrorEvent{
		ModelID: p.model.ID,
		Code:    "provider_error",
		Message: provider.UserMessage(kind),
	}}
}

// generateTitle asks the utility model for a conversation title after
// the first completed exchange.
func (o *Orchestrator) generateTitle(ctx context.Context, conversationID, userContent, assistantContent string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	mc, ok := o.registry.Model(o.utilityModel)
	if !ok {
		return
	}
	client, ok := o.providers[mc.Provider]
	if !ok {
		return
	}

	system, msgs := assembler.TitlePrompt(userContent, assistantContent)
	title, err := client.Complete(ctx, mc.ProviderModelID, system, msgs)
	if err != nil {
		o.logger.Warn("title generation failed", zap.Error(err))
		return
	}
	if err := o.store.UpdateConversationTitle(ctx, conversationID, trimTitle(title)); err != nil {
		o.logger.Warn("failed to store title", zap.Error(err))
	}
}

// regenerateSummary replaces the stored rolling summary wholesale.
func (o *Orchestrator) regenerateSummary(ctx context.Context, conversationID string) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	mc, ok := o.registry.Model(o.utilityModel)
	if !ok {
		return
	}
	client, ok := o.providers[mc.Provider]
	if !ok {
		return
	}

	history, err := o.store.ListMessages(ctx, conversationID, 0)
	if err != nil {
		o.logger.Warn("failed to load history for summary", zap.Error(err))
		return
	}

	system, msgs := assembler.SummaryPrompt(history)
	summary, err := client.Complete(ctx, mc.ProviderModelID, system, msgs)
	if err != nil {
		o.logger.Warn("summary regeneration failed", zap.Error(err))
		return
	}
	if err := o.store.UpdateConversationSummary(ctx, conversationID, summary); err != nil {
		o.logger.Warn("failed to store summary", zap.Error(err))
	}
}

func trimTitle(title string) string {
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if len(title) > 256 {
		title = title[:256]
	}
	return title
}
