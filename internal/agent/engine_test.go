package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/metrics"
	"github.com/dyike/CortexAdvisor/internal/tools"
	"github.com/dyike/CortexAdvisor/internal/trading"
	"github.com/dyike/CortexAdvisor/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeModel struct {
	mu          sync.Mutex
	plan        string
	planErr     error
	chunks      []string
	streamErr   error
	planInput   []*schema.Message
	finalInput  []*schema.Message
	genCalls    int
	streamCalls int
}

func (f *fakeModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls++
	f.planInput = in
	if f.planErr != nil {
		return nil, f.planErr
	}
	return schema.AssistantMessage(f.plan, nil), nil
}

func (f *fakeModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	f.finalInput = in
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

type memStore struct {
	mu        sync.Mutex
	messages  map[string][]models.ChatMessage
	portfolio *models.PortfolioSnapshot
	appendErr error
	readErr   error
	appends   int
}

func newMemStore() *memStore {
	return &memStore{messages: map[string][]models.ChatMessage{}}
}

func (s *memStore) GetOrCreateSession(_ context.Context, id string) (*models.Session, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return &models.Session{ID: id, RiskProfile: consts.DefaultRiskProfile, InvestmentGoal: consts.DefaultInvestmentGoal,
		PortfolioValue: decimal.NewFromInt(consts.DefaultPortfolioValue)}, nil
}

func (s *memStore) LatestPortfolio(context.Context, string) (*models.PortfolioSnapshot, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.portfolio, nil
}

func (s *memStore) RecentMessages(_ context.Context, id string, n int) ([]models.ChatMessage, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]models.ChatMessage(nil), msgs...), nil
}

func (s *memStore) AppendTurn(ctx context.Context, id string, msgs ...models.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	s.messages[id] = append(s.messages[id], msgs...)
	return nil
}

func (s *memStore) history(id string) []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages[id]...)
}

type recordingQuotes struct {
	mu    sync.Mutex
	calls []string
}

func (q *recordingQuotes) Quote(_ context.Context, symbol string) (*models.Quote, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, symbol)
	return &models.Quote{Symbol: symbol, Price: decimal.RequireFromString("190.25")}, nil
}

type staticRetriever struct{}

func (staticRetriever) Retrieve(context.Context, string, int) ([]models.ScoredDocument, error) {
	return []models.ScoredDocument{
		{Document: models.Document{Title: "Dollar-cost averaging", Content: "Invest a fixed amount on a schedule."}, Score: 0.9},
	}, nil
}

type memLedger struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (l *memLedger) AppendTrade(_ context.Context, t *models.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, *t)
	return nil
}

func newEngine(t *testing.T, m *fakeModel, store *memStore, deps Deps, opts ...Option) *Engine {
	t.Helper()
	if deps.Registry == nil {
		reg, err := tools.NewRegistry(context.Background())
		require.NoError(t, err)
		deps.Registry = reg
	}
	deps.Model = m
	deps.Store = store
	e, err := New(deps, opts...)
	require.NoError(t, err)
	return e
}

func registryWith(t *testing.T, ts ...tool.InvokableTool) *tools.Registry {
	t.Helper()
	reg, err := tools.NewRegistry(context.Background(), ts...)
	require.NoError(t, err)
	return reg
}

func drain(ch <-chan string) (statuses, content []string) {
	for v := range ch {
		if strings.HasPrefix(v, consts.StatusPrefix) {
			statuses = append(statuses, v)
		} else {
			content = append(content, v)
		}
	}
	return statuses, content
}

const pricePlan = `{"type":"plan","steps":[{"tool":"get_price","args":{"symbol":"AAPL"},"why":"need the quote"}],"final_prompt":"Report the price."}`

func TestPlanWithPriceTool(t *testing.T) {
	quotes := &recordingQuotes{}
	m := &fakeModel{
		plan:   pricePlan,
		chunks: []string{`{"type":"final",`, `"answer_plain":"About $190.",`, `"answer_verbose":"AAPL last traded at $190.25."}`},
	}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{Registry: registryWith(t, tools.NewPriceTool(quotes))})

	res, err := e.ProcessTurn(context.Background(), "What is AAPL price?", "s1")
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, quotes.calls)
	assert.Equal(t, 1, m.genCalls)
	assert.Equal(t, 1, m.streamCalls)

	history := store.history("s1")
	require.Len(t, history, 2)
	assert.Equal(t, consts.RoleUser, history[0].Role)
	assert.Equal(t, "What is AAPL price?", history[0].Content)
	assert.Equal(t, consts.RoleAssistant, history[1].Role)
	assert.Equal(t, "AAPL last traded at $190.25.", history[1].Content)

	assert.Equal(t, "AAPL last traded at $190.25.", res.Answer)
	assert.Empty(t, res.ExecutedTrades)

	final := m.finalInput[len(m.finalInput)-1].Content
	assert.Contains(t, final, `get_price: {"symbol":"AAPL"`)
	assert.Contains(t, final, "Report the price.")
}

func TestStreamForwardsIncrementsVerbatim(t *testing.T) {
	chunks := []string{`{"type":"final",`, `"answer_plain":"ok"}`}
	m := &fakeModel{plan: pricePlan, chunks: chunks}
	e := newEngine(t, m, newMemStore(), Deps{Registry: registryWith(t, tools.NewPriceTool(&recordingQuotes{}))})

	statuses, content := drain(e.Stream(context.Background(), "What is AAPL price?", "s1"))
	assert.Equal(t, chunks, content)
	assert.Equal(t, []string{
		"STATUS: initializing",
		"STATUS: context_gathering",
		"STATUS: proactive_retrieval",
		"STATUS: planning",
		"STATUS: executing_plan",
		"STATUS: tool get_price",
		"STATUS: finalizing",
		"STATUS: complete",
	}, statuses)
}

func TestUnknownToolDoesNotFailTurn(t *testing.T) {
	m := &fakeModel{
		plan:   `{"type":"plan","steps":[{"tool":"foo","args":{},"why":"?"}],"final_prompt":"Explain."}`,
		chunks: []string{"I could not look that up."},
	}
	store := newMemStore()
	reg := prometheus.NewRegistry()
	mt := metrics.New(reg)
	e := newEngine(t, m, store, Deps{}, WithMetrics(mt))

	res, err := e.ProcessTurn(context.Background(), "Use foo", "s1")
	require.NoError(t, err)
	assert.Equal(t, "I could not look that up.", res.Answer)

	final := m.finalInput[len(m.finalInput)-1].Content
	assert.Contains(t, final, `tool "foo" not found`)
	assert.Len(t, store.history("s1"), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.ToolCalls.WithLabelValues("foo", metrics.ToolNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Turns.WithLabelValues(metrics.OutcomeComplete)))
}

func TestFailingToolIsInlined(t *testing.T) {
	m := &fakeModel{
		plan:   `{"type":"plan","steps":[{"tool":"get_price","args":{},"why":"?"},{"tool":"get_price","args":{"symbol":"MSFT"},"why":"?"}],"final_prompt":"x"}`,
		chunks: []string{"done"},
	}
	quotes := &recordingQuotes{}
	e := newEngine(t, m, newMemStore(), Deps{Registry: registryWith(t, tools.NewPriceTool(quotes))})

	_, err := e.ProcessTurn(context.Background(), "prices", "s1")
	require.NoError(t, err)

	transcript := m.finalInput[len(m.finalInput)-1].Content
	assert.Contains(t, transcript, `tool "get_price" failed:`)
	assert.Equal(t, []string{"MSFT"}, quotes.calls)
}

func TestCancelMidStreamPersistsNothing(t *testing.T) {
	m := &fakeModel{
		plan:   pricePlan,
		chunks: []string{"one ", "two ", "three ", "four ", "five"},
	}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{Registry: registryWith(t, tools.NewPriceTool(&recordingQuotes{}))})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := 0
	for v := range e.Stream(ctx, "What is AAPL price?", "s1") {
		if strings.HasPrefix(v, consts.StatusPrefix) {
			continue
		}
		got++
		if got == 2 {
			cancel()
		}
	}

	assert.GreaterOrEqual(t, got, 2)
	assert.Empty(t, store.history("s1"))
	assert.Zero(t, store.appends)
}

func TestDirectAnswerForUnparsableOutput(t *testing.T) {
	m := &fakeModel{plan: "<think>hmm</think>Diversify across sectors."}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{})

	statuses, content := drain(e.Stream(context.Background(), "How should I invest?", "s1"))
	assert.Contains(t, statuses, "STATUS: direct_answer")
	assert.NotContains(t, statuses, "STATUS: finalizing")
	assert.Equal(t, []string{"Diversify across sectors."}, content)
	assert.Zero(t, m.streamCalls)

	history := store.history("s1")
	require.Len(t, history, 2)
	assert.Equal(t, "Diversify across sectors.", history[1].Content)
}

func TestDirectFinalAnswerPersistsVerbose(t *testing.T) {
	m := &fakeModel{plan: `{"type":"final","answer_plain":"short","answer_verbose":"long form"}`}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{})

	res, err := e.ProcessTurn(context.Background(), "hi", "s1")
	require.NoError(t, err)
	assert.Equal(t, "long form", res.Answer)
	assert.Equal(t, "long form", store.history("s1")[1].Content)
}

func TestUnparsableAdviceFallsBack(t *testing.T) {
	ledger := &memLedger{}
	m := &fakeModel{plan: "no idea, sorry"}
	e := newEngine(t, m, newMemStore(), Deps{Trades: trading.NewExecutor(ledger, nil)})

	res, err := e.ProcessTurn(context.Background(), "buy?", "s1")
	require.NoError(t, err)
	assert.Equal(t, consts.IntentInfo, res.Intent)
	assert.True(t, res.DisclaimerRequired)
	assert.Empty(t, res.ExecutedTrades)
	assert.Empty(t, ledger.trades)
}

func TestTradesInFinalAnswerAreExecuted(t *testing.T) {
	ledger := &memLedger{}
	m := &fakeModel{
		plan: pricePlan,
		chunks: []string{
			`{"type":"final","answer_plain":"Buy 2 AAPL.",`,
			`"answer_verbose":"Buying 2 AAPL. This is a guaranteed return. {\"trades\":[{\"symbol\":\"AAPL\",\"action\":\"BUY\",\"qty\":2}],\"disclaimer_required\":true,\"intent\":\"TRADE\"}"}`,
		},
	}
	e := newEngine(t, m, newMemStore(), Deps{
		Registry: registryWith(t, tools.NewPriceTool(&recordingQuotes{})),
		Trades:   trading.NewExecutor(ledger, nil),
	})

	res, err := e.ProcessTurn(context.Background(), "Buy two shares of Apple", "s1")
	require.NoError(t, err)
	require.Len(t, res.ExecutedTrades, 1)
	assert.Equal(t, "AAPL", res.ExecutedTrades[0].Symbol)
	assert.Equal(t, "TRADE", res.Intent)
	assert.NotContains(t, res.Answer, "guaranteed")
	assert.Contains(t, res.Answer, `"trades"`)
	assert.Len(t, ledger.trades, 1)
}

func TestProactiveRetrievalFeedsPromptAndSources(t *testing.T) {
	m := &fakeModel{plan: `{"type":"final","answer_plain":"Use DCA."}`}
	reg := registryWith(t, tools.NewKnowledgeTool(staticRetriever{}, 3))
	e := newEngine(t, m, newMemStore(), Deps{Registry: reg})

	res, err := e.ProcessTurn(context.Background(), "How do I start investing?", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Dollar-cost averaging"}, res.Sources)

	user := m.planInput[len(m.planInput)-1].Content
	assert.Contains(t, user, "Dollar-cost averaging")
	assert.Contains(t, user, "Invest a fixed amount on a schedule.")
}

func TestProactiveRetrievalWithoutKnowledgeTool(t *testing.T) {
	m := &fakeModel{plan: `{"type":"final","answer_plain":"Use DCA."}`}
	e := newEngine(t, m, newMemStore(), Deps{Knowledge: staticRetriever{}})

	res, err := e.ProcessTurn(context.Background(), "How do I start investing?", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Dollar-cost averaging"}, res.Sources)
	assert.Contains(t, m.planInput[len(m.planInput)-1].Content, "Invest a fixed amount on a schedule.")
}

func TestStoreReadFailuresDegrade(t *testing.T) {
	m := &fakeModel{plan: `{"type":"final","answer_plain":"ok"}`}
	store := newMemStore()
	store.readErr = errors.New("db locked")
	e := newEngine(t, m, store, Deps{})

	res, err := e.ProcessTurn(context.Background(), "hi", "s1")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)

	user := m.planInput[len(m.planInput)-1].Content
	assert.Contains(t, user, "Risk profile: "+consts.DefaultRiskProfile)
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	m := &fakeModel{plan: `{"type":"final","answer_plain":"ok"}`}
	store := newMemStore()
	store.appendErr = errors.New("disk full")
	e := newEngine(t, m, store, Deps{})

	_, err := e.ProcessTurn(context.Background(), "hi", "s1")
	require.ErrorIs(t, err, ErrTurnFailed)

	statuses, content := drain(e.Stream(context.Background(), "hi", "s1"))
	assert.Equal(t, []string{"ok"}, content)
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.True(t, strings.HasPrefix(statuses[len(statuses)-2], "STATUS: error: turn failed"))
	assert.Equal(t, "STATUS: complete", statuses[len(statuses)-1])
}

func TestPlanProviderFailureApologizes(t *testing.T) {
	m := &fakeModel{planErr: errors.New("503")}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{})

	_, content := drain(e.Stream(context.Background(), "hi", "s1"))
	require.Len(t, content, 1)
	assert.Contains(t, content[0], "sorry")
	assert.Len(t, store.history("s1"), 2)
}

func TestFinalStreamFailureApologizes(t *testing.T) {
	m := &fakeModel{plan: `{"type":"plan","steps":[],"final_prompt":"x"}`, streamErr: errors.New("reset")}
	store := newMemStore()
	e := newEngine(t, m, store, Deps{})

	res, err := e.ProcessTurn(context.Background(), "hi", "s1")
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "sorry")
	assert.Len(t, store.history("s1"), 2)
}

func TestHistoryWindowIsApplied(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 5; i++ {
		store.messages["s1"] = append(store.messages["s1"],
			models.ChatMessage{Role: consts.RoleUser, Content: "old question"},
			models.ChatMessage{Role: consts.RoleAssistant, Content: "old answer"})
	}
	m := &fakeModel{plan: `{"type":"final","answer_plain":"ok"}`}
	e := newEngine(t, m, store, Deps{}, WithHistoryWindow(2))

	_, err := e.ProcessTurn(context.Background(), "new", "s1")
	require.NoError(t, err)
	// system + 2 history + user
	assert.Len(t, m.planInput, 4)
}
