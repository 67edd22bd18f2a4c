package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/aurelia-ai/multichat/internal/assembler"
	"github.com/aurelia-ai/multichat/internal/availability"
	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/ledger"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/provider"
	"github.com/aurelia-ai/multichat/internal/registry"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
)

// memStore is an in-memory ConversationStore.
type memStore struct {
	mu        sync.Mutex
	convs     map[string]*model.Conversation
	msgs      []*model.Message
	overrides map[string]*model.UserOverride
}

func newMemStore() *memStore {
	return &memStore{
		convs:     make(map[string]*model.Conversation),
		overrides: make(map[string]*model.UserOverride),
	}
}

func (m *memStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *conv
	m.convs[conv.ID] = &cp
	return nil
}

func (m *memStore) GetConversation(ctx context.Context, userID, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok || conv.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (m *memStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.msgs = append(m.msgs, &cp)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memStore) GetMessage(ctx context.Context, conversationID, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID && msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs[id]; ok && conv.Title == "" {
		conv.Title = title
	}
	return nil
}

func (m *memStore) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs[id]; ok {
		conv.Summary = summary
	}
	return nil
}

func (m *memStore) IncrementExchangeCount(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	conv.ExchangeCount++
	return conv.ExchangeCount, nil
}

func (m *memStore) GetOverride(ctx context.Context, userID string) (*model.UserOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overrides[userID], nil
}

func (m *memStore) messagesByRole(role model.Role) []*model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.msgs {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

// memLedgerStore backs the real ledger in tests.
type memLedgerStore struct {
	mu      sync.Mutex
	daily   map[string]*model.DailyUsage
	monthly map[string]*model.MonthlyCredits
	txs     []*model.CreditTransaction
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{
		daily:   make(map[string]*model.DailyUsage),
		monthly: make(map[string]*model.MonthlyCredits),
	}
}

func (f *memLedgerStore) GetDailyUsage(ctx context.Context, userID, day string) (*model.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.daily[userID+day]; ok {
		cp := *u
		return &cp, nil
	}
	return &model.DailyUsage{UserID: userID, Day: day}, nil
}

func (f *memLedgerStore) IncrementDailyUsage(ctx context.Context, userID, day string, chars int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.daily[userID+day]
	if !ok {
		u = &model.DailyUsage{UserID: userID, Day: day}
		f.daily[userID+day] = u
	}
	u.RequestCount++
	u.CharCount += int64(chars)
	return nil
}

func (f *memLedgerStore) GetMonthlyCredits(ctx context.Context, userID, month string) (*model.MonthlyCredits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.monthly[userID+month]; ok {
		cp := *c
		return &cp, nil
	}
	return &model.MonthlyCredits{UserID: userID, Month: month}, nil
}

func (f *memLedgerStore) DebitCredits(ctx context.Context, userID, month string, cost int64) (*model.MonthlyCredits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.monthly[userID+month]
	if !ok || c.UsedCredits+cost > c.BaseCredits+c.RolloverCredits+c.PurchasedCredits {
		return nil, store.ErrInsufficientCredits
	}
	c.UsedCredits += cost
	cp := *c
	return &cp, nil
}

func (f *memLedgerStore) InsertMonthlyGrant(ctx context.Context, row *model.MonthlyCredits) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.monthly[row.UserID+row.Month]; ok {
		return false, nil
	}
	cp := *row
	f.monthly[row.UserID+row.Month] = &cp
	return true, nil
}

func (f *memLedgerStore) AddPurchasedCredits(ctx context.Context, userID, month string, amount int64) (*model.MonthlyCredits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.monthly[userID+month]
	if !ok {
		c = &model.MonthlyCredits{UserID: userID, Month: month}
		f.monthly[userID+month] = c
	}
	c.PurchasedCredits += amount
	cp := *c
	return &cp, nil
}

func (f *memLedgerStore) AppendTransaction(ctx context.Context, tx *model.CreditTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
	return nil
}

func (f *memLedgerStore) HasTransactionReference(ctx context.Context, userID, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.txs {
		if tx.UserID == userID && tx.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

// script controls one fake model's behavior.
type script struct {
	tokens []string
	err    error
	// holdUntilCancel emits the tokens and then blocks until the
	// request context is canceled.
	holdUntilCancel bool
}

// fakeClient serves scripted streams keyed by provider model id.
type fakeClient struct {
	scripts map[string]script
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) StreamCompletion(ctx context.Context, providerModelID, system string, messages []provider.ChatMessage) (<-chan provider.Fragment, error) {
	sc := c.scripts[providerModelID]
	out := make(chan provider.Fragment)
	go func() {
		defer close(out)
		for _, tok := range sc.tokens {
			select {
			case out <- provider.Fragment{Text: tok}:
			case <-ctx.Done():
				return
			}
		}
		if sc.holdUntilCancel {
			<-ctx.Done()
			return
		}
		if sc.err != nil {
			out <- provider.Fragment{Err: sc.err}
		}
	}()
	return out, nil
}

func (c *fakeClient) Complete(ctx context.Context, providerModelID, system string, messages []provider.ChatMessage) (string, error) {
	return "completion", nil
}

func (c *fakeClient) Classify(err error) provider.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return provider.KindCanceled
	}
	return provider.KindUnknown
}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }

func testRegistry() *registry.Registry {
	models := []registry.ModelConfig{
		{ID: "alpha", Provider: "fake", ProviderModelID: "alpha", CreditCost: 20, Category: registry.CategoryLow, Enabled: true},
		{ID: "beta", Provider: "fake", ProviderModelID: "beta", CreditCost: 20, Category: registry.CategoryLow, Enabled: true},
		{ID: "gamma", Provider: "fake", ProviderModelID: "gamma", CreditCost: 20, Category: registry.CategoryHigh, Enabled: true},
	}
	tiers := []registry.TierConfig{
		{Tier: registry.TierFree, Mode: model.ModeQuota, DailyRequestCap: 10,
			Categories: []registry.Category{registry.CategoryLow}, ContextWindow: 8, InputCharCap: 4000},
		{Tier: registry.TierPlus, Mode: model.ModeCredit, MonthlyCredits: 500, RolloverCap: 500,
			Categories: []registry.Category{registry.CategoryLow, registry.CategoryMedium, registry.CategoryHigh},
			ContextWindow: 20, InputCharCap: 16000, Memory: true},
	}
	return registry.New(models, tiers)
}

type fixture struct {
	orch    *Orchestrator
	conv    *memStore
	ledgerS *memLedgerStore
}

func newFixture(scripts map[string]script) *fixture {
	conv := newMemStore()
	ledgerS := newMemLedgerStore()
	log := logger.NewNop()
	led := ledger.New(ledgerS, nil, log, nil)
	cache := availability.New(time.Minute, func(ctx context.Context) (map[string]bool, error) {
		return map[string]bool{}, nil
	}, nil)
	providers := map[string]provider.Client{"fake": &fakeClient{scripts: scripts}}

	orch := New(testRegistry(), cache, led, conv, providers, nil,
		assembler.DefaultConfig(), "", log, nil)
	return &fixture{orch: orch, conv: conv, ledgerS: ledgerS}
}

func (f *fixture) seedCredits(userID string, base int64) {
	month := ledger.Month(time.Now())
	f.ledgerS.monthly[userID+month] = &model.MonthlyCredits{
		UserID: userID, Month: month, BaseCredits: base,
	}
}

type collected struct {
	tokens map[string]string
	dones  map[string]*model.DoneEvent
	errs   map[string]*model.ErrorEvent
}

func collect(d *Dispatched) collected {
	out := collected{
		tokens: make(map[string]string),
		dones:  make(map[string]*model.DoneEvent),
		errs:   make(map[string]*model.ErrorEvent),
	}
	for ev := range d.Events {
		switch ev.Type {
		case model.EventToken:
			out.tokens[ev.Token.ModelID] += ev.Token.Token
		case model.EventDone:
			out.dones[ev.Done.ModelID] = ev.Done
		case model.EventError:
			out.errs[ev.Error.ModelID] = ev.Error
		}
	}
	return out
}

func TestDispatchFanOutSharesOneUserMessage(t *testing.T) {
	f := newFixture(map[string]script{
		"alpha": {tokens: []string{"Hello", " from alpha"}},
		"beta":  {tokens: []string{"Hello", " from beta"}},
	})
	f.seedCredits("u1", 500)

	d, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierPlus,
		Content:  "compare yourselves",
		ModelIDs: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := collect(d)

	if got.tokens["alpha"] != "Hello from alpha" {
		t.Errorf("alpha tokens = %q", got.tokens["alpha"])
	}
	if got.tokens["beta"] != "Hello from beta" {
		t.Errorf("beta tokens = %q", got.tokens["beta"])
	}
	if len(got.dones) != 2 {
		t.Fatalf("done events = %d, want 2", len(got.dones))
	}

	users := f.conv.messagesByRole(model.RoleUser)
	if len(users) != 1 {
		t.Fatalf("user messages = %d, want exactly 1", len(users))
	}
	assistants := f.conv.messagesByRole(model.RoleAssistant)
	if len(assistants) != 2 {
		t.Fatalf("assistant messages = %d, want 2", len(assistants))
	}
	for _, a := range assistants {
		if a.ParentID == nil || *a.ParentID != users[0].ID {
			t.Errorf("assistant %s parent = %v, want shared user message %s", a.ModelID, a.ParentID, users[0].ID)
		}
	}
}

func TestDispatchDebitsEachModelIndependently(t *testing.T) {
	f := newFixture(map[string]script{
		"alpha": {tokens: []string{"a"}},
		"beta":  {tokens: []string{"b"}},
	})
	f.seedCredits("u1", 50)

	d, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierPlus,
		Content:  "hi",
		ModelIDs: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := collect(d)

	if len(got.dones) != 2 {
		t.Fatalf("done events = %d, want 2", len(got.dones))
	}
	bal, _ := f.ledgerS.GetMonthlyCredits(context.Background(), "u1", ledger.Month(time.Now()))
	if bal.Available() != 10 {
		t.Errorf("final balance = %d, want 10 (50 - 2x20)", bal.Available())
	}
	for id, done := range got.dones {
		if done.CreditBalance == nil {
			t.Errorf("%s done event missing credit balance", id)
		}
	}
}

func TestDispatchInsufficientCreditsRejectsBeforePersistence(t *testing.T) {
	f := newFixture(map[string]script{"alpha": {tokens: []string{"a"}}})
	f.seedCredits("u1", 10)

	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierPlus,
		Content:  "hi",
		ModelIDs: []string{"alpha"},
	})
	rej, ok := entitlement.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Code != entitlement.CodeInsufficientCreds {
		t.Errorf("code = %q, want insufficient_credits", rej.Code)
	}
	if rej.Needed != 20 || rej.Available != 10 {
		t.Errorf("shortfall = needed %d / available %d, want 20 / 10", rej.Needed, rej.Available)
	}

	if len(f.conv.convs) != 0 {
		t.Error("a rejected request must not create a conversation")
	}
	if len(f.conv.msgs) != 0 {
		t.Error("a rejected request must not persist messages")
	}
}

func TestDispatchQuotaModeCountsRequests(t *testing.T) {
	f := newFixture(map[string]script{"alpha": {tokens: []string{"a"}}})

	d, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierFree,
		Content:  "hi",
		ModelIDs: []string{"alpha"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := collect(d)

	done := got.dones["alpha"]
	if done == nil {
		t.Fatal("missing done event")
	}
	if done.RemainingRequests == nil || *done.RemainingRequests != 9 {
		t.Errorf("remaining = %v, want 9", done.RemainingRequests)
	}
}

func TestDispatchModelNotAllowedForTier(t *testing.T) {
	f := newFixture(map[string]script{"gamma": {tokens: []string{"g"}}})

	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierFree,
		Content:  "hi",
		ModelIDs: []string{"gamma"},
	})
	rej, ok := entitlement.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Code != entitlement.CodeModelNotAllowed {
		t.Errorf("code = %q, want model_not_allowed", rej.Code)
	}
}

func TestDispatchUnknownModelRejects(t *testing.T) {
	f := newFixture(nil)

	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierFree,
		Content:  "hi",
		ModelIDs: []string{"nonexistent"},
	})
	rej, ok := entitlement.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Code != entitlement.CodeModelNotFound {
		t.Errorf("code = %q, want model_not_found", rej.Code)
	}
}

func TestDispatchInputTooLong(t *testing.T) {
	f := newFixture(map[string]script{"alpha": {tokens: []string{"a"}}})

	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierFree,
		Content:  string(long),
		ModelIDs: []string{"alpha"},
	})
	rej, ok := entitlement.AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rej.Code != entitlement.CodeInputTooLong {
		t.Errorf("code = %q, want input_too_long", rej.Code)
	}
}

func TestDispatchProviderFailureIsolated(t *testing.T) {
	f := newFixture(map[string]script{
		"alpha": {tokens: []string{"ok"}},
		"beta":  {err: errors.New("backend exploded")},
	})
	f.seedCredits("u1", 500)

	d, err := f.orch.Dispatch(context.Background(), Request{
		UserID:   "u1",
		Tier:     registry.TierPlus,
		Content:  "hi",
		ModelIDs: []string{"alpha", "beta"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := collect(d)

	if got.dones["alpha"] == nil {
		t.Error("alpha should complete despite beta's failure")
	}
	if got.errs["beta"] == nil {
		t.Error("beta should surface an error event")
	}

	assistants := f.conv.messagesByRole(model.RoleAssistant)
	if len(assistants) != 1 || assistants[0].ModelID != "alpha" {
		t.Errorf("assistant messages = %+v, want only alpha's", assistants)
	}

	// Only the completed response is charged.
	bal, _ := f.ledgerS.GetMonthlyCredits(context.Background(), "u1", ledger.Month(time.Now()))
	if bal.Available() != 480 {
		t.Errorf("balance = %d, want 480 (one debit of 20)", bal.Available())
	}
}

func TestDispatchCancellationSkipsPersistenceAndCharge(t *testing.T) {
	f := newFixture(map[string]script{
		"alpha": {tokens: []string{"partial"}, holdUntilCancel: true},
	})
	f.seedCredits("u1", 500)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, err := f.orch.Dispatch(ctx, Request{
		UserID:   "u1",
		Tier:     registry.TierPlus,
		Content:  "hi",
		ModelIDs: []string{"alpha"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// Cancel once the first token arrives, then drain to completion.
	for ev := range d.Events {
		if ev.Type == model.EventToken {
			cancel()
		}
	}

	if got := f.conv.messagesByRole(model.RoleAssistant); len(got) != 0 {
		t.Errorf("assistant messages = %d, want 0 after cancellation", len(got))
	}
	bal, _ := f.ledgerS.GetMonthlyCredits(context.Background(), "u1", ledger.Month(time.Now()))
	if bal.Available() != 500 {
		t.Errorf("balance = %d, want untouched 500", bal.Available())
	}
}

func TestDispatchAlternativeReusesQuestion(t *testing.T) {
	f := newFixture(map[string]script{
		"beta": {tokens: []string{"another take"}},
	})
	f.seedCredits("u1", 500)

	// Seed an answered conversation.
	convID := uuid.Must(uuid.NewV7()).String()
	f.conv.CreateConversation(context.Background(), &model.Conversation{ID: convID, UserID: "u1", ExchangeCount: 1})
	userMsg := &model.Message{ID: uuid.Must(uuid.NewV7()).String(), ConversationID: convID, Role: model.RoleUser, Content: "what is a monad"}
	f.conv.AppendMessage(context.Background(), userMsg)
	firstAnswer := &model.Message{ID: uuid.Must(uuid.NewV7()).String(), ConversationID: convID, ParentID: &userMsg.ID, Role: model.RoleAssistant, Content: "a monoid in...", ModelID: "alpha"}
	f.conv.AppendMessage(context.Background(), firstAnswer)

	d, err := f.orch.Dispatch(context.Background(), Request{
		UserID:         "u1",
		Tier:           registry.TierPlus,
		ConversationID: convID,
		ModelIDs:       []string{"beta"},
		AlternativeOf:  firstAnswer.ID,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.UserMessageID != userMsg.ID {
		t.Errorf("meta user message = %s, want original question %s", d.UserMessageID, userMsg.ID)
	}
	got := collect(d)
	if got.dones["beta"] == nil {
		t.Fatal("missing done event")
	}

	users := f.conv.messagesByRole(model.RoleUser)
	if len(users) != 1 {
		t.Errorf("user messages = %d, want 1 (no new user turn for an alternative)", len(users))
	}
	assistants := f.conv.messagesByRole(model.RoleAssistant)
	if len(assistants) != 2 {
		t.Fatalf("assistant messages = %d, want 2", len(assistants))
	}
	for _, a := range assistants {
		if a.ParentID == nil || *a.ParentID != userMsg.ID {
			t.Errorf("assistant %s should share the original question as parent", a.ModelID)
		}
	}
}

func TestDispatchAlternativeOfUserMessageRejected(t *testing.T) {
	f := newFixture(map[string]script{"beta": {tokens: []string{"x"}}})
	f.seedCredits("u1", 500)

	convID := uuid.Must(uuid.NewV7()).String()
	f.conv.CreateConversation(context.Background(), &model.Conversation{ID: convID, UserID: "u1"})
	userMsg := &model.Message{ID: uuid.Must(uuid.NewV7()).String(), ConversationID: convID, Role: model.RoleUser, Content: "q"}
	f.conv.AppendMessage(context.Background(), userMsg)

	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:         "u1",
		Tier:           registry.TierPlus,
		ConversationID: convID,
		ModelIDs:       []string{"beta"},
		AlternativeOf:  userMsg.ID,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("alternative of a user message should fail with not found, got %v", err)
	}
}

func TestDispatchForeignConversationNotFound(t *testing.T) {
	f := newFixture(map[string]script{"alpha": {tokens: []string{"x"}}})

	convID := uuid.Must(uuid.NewV7()).String()
	f.conv.CreateConversation(context.Background(), &model.Conversation{ID: convID, UserID: "someone-else"})

	_, err := f.orch.Dispatch(context.Background(), Request{
		UserID:         "u1",
		Tier:           registry.TierFree,
		ConversationID: convID,
		Content:        "hi",
		ModelIDs:       []string{"alpha"},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected not found for another user's conversation, got %v", err)
	}
}
