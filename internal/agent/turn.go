package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/llm"
	"github.com/dyike/CortexAdvisor/internal/metrics"
	"github.com/dyike/CortexAdvisor/internal/prompt"
	"github.com/dyike/CortexAdvisor/internal/tools"
	"github.com/dyike/CortexAdvisor/models"
)

// sink receives the increments of one turn. Both methods report false once
// the caller has gone away.
type sink interface {
	Status(s string) bool
	Content(s string) bool
}

type outcome struct {
	answer    string
	sources   []string
	trades    []models.Trade
	cancelled bool
}

type turn struct {
	e         *Engine
	ctx       context.Context
	query     string
	sessionID string
	out       sink
	logger    *zap.Logger
}

func (e *Engine) run(ctx context.Context, query, sessionID string, out sink) (*outcome, error) {
	t := &turn{
		e:         e,
		ctx:       ctx,
		query:     strings.TrimSpace(query),
		sessionID: sessionID,
		out:       out,
		logger:    e.logger.With(zap.String("session_id", sessionID)),
	}
	res, err := t.execute()
	switch {
	case err != nil:
		e.metrics.Turn(metrics.OutcomeFailed)
	case res.cancelled:
		e.metrics.Turn(metrics.OutcomeCancelled)
		t.logger.Info("turn cancelled")
	default:
		e.metrics.Turn(metrics.OutcomeComplete)
	}
	return res, err
}

var cancelled = &outcome{cancelled: true}

func (t *turn) enter(state string) bool {
	t.logger.Debug("state transition", zap.String("state", state))
	return t.out.Status(consts.StatusPrefix+" "+state) && t.ctx.Err() == nil
}

func (t *turn) execute() (*outcome, error) {
	if !t.enter(consts.StateInitializing) {
		return cancelled, nil
	}

	if !t.enter(consts.StateContextGathering) {
		return cancelled, nil
	}
	tc := t.gatherContext()
	if t.ctx.Err() != nil {
		return cancelled, nil
	}

	if !t.enter(consts.StateProactiveRetrieval) {
		return cancelled, nil
	}
	tc.Documents, tc.DocumentsText = t.retrieve()
	sources := make([]string, 0, len(tc.Documents))
	for _, d := range tc.Documents {
		sources = append(sources, d.Title)
	}
	if t.ctx.Err() != nil {
		return cancelled, nil
	}

	if !t.enter(consts.StatePlanning) {
		return cancelled, nil
	}
	raw := t.plan(tc)
	if t.ctx.Err() != nil {
		return cancelled, nil
	}
	res := t.e.sanitizer.Sanitize(raw)

	var answer string
	if plan, ok := res.Plan(); ok {
		if !t.enter(consts.StateExecutingPlan) {
			return cancelled, nil
		}
		transcript, ok := t.executePlan(plan)
		if !ok {
			return cancelled, nil
		}

		if !t.enter(consts.StateFinalizing) {
			return cancelled, nil
		}
		text, ok := t.finalize(plan, transcript)
		if !ok {
			return cancelled, nil
		}
		answer = t.persistable(text)
	} else {
		if !t.enter(consts.StateDirectAnswer) {
			return cancelled, nil
		}
		answer = res.Text()
		if !t.out.Content(answer) {
			return cancelled, nil
		}
	}

	if t.ctx.Err() != nil {
		return cancelled, nil
	}
	err := t.e.store.AppendTurn(t.ctx, t.sessionID,
		models.ChatMessage{SessionID: t.sessionID, Role: consts.RoleUser, Content: t.query},
		models.ChatMessage{SessionID: t.sessionID, Role: consts.RoleAssistant, Content: answer},
	)
	if err != nil {
		if t.ctx.Err() != nil {
			return cancelled, nil
		}
		t.logger.Error("persist turn failed", zap.Error(err))
		return &outcome{answer: answer, sources: sources}, fmt.Errorf("%w: persist history: %w", ErrTurnFailed, err)
	}

	var trades []models.Trade
	if t.e.trades != nil {
		trades = t.e.trades.ParseAndExecute(t.ctx, answer, t.sessionID)
	}
	t.enter(consts.StateComplete)
	return &outcome{answer: answer, sources: sources, trades: trades}, nil
}

// gatherContext loads history, session and portfolio concurrently, then
// quotes for the tickers in play. Every failure degrades to an empty value.
func (t *turn) gatherContext() prompt.TurnContext {
	tc := prompt.TurnContext{Query: t.query}

	var g errgroup.Group
	g.Go(func() error {
		history, err := t.e.store.RecentMessages(t.ctx, t.sessionID, t.e.historyWindow)
		if err != nil {
			t.logger.Warn("load history failed", zap.Error(err))
			return nil
		}
		tc.History = history
		return nil
	})
	g.Go(func() error {
		sess, err := t.e.store.GetOrCreateSession(t.ctx, t.sessionID)
		if err != nil {
			t.logger.Warn("load session failed", zap.Error(err))
			sess = defaultSession(t.sessionID)
		}
		tc.Session = sess
		return nil
	})
	g.Go(func() error {
		snap, err := t.e.store.LatestPortfolio(t.ctx, t.sessionID)
		if err != nil {
			t.logger.Warn("load portfolio failed", zap.Error(err))
			return nil
		}
		tc.Portfolio = snap
		return nil
	})
	_ = g.Wait()

	if t.e.market == nil {
		return tc
	}
	text := t.query
	if tc.Portfolio != nil {
		for _, h := range tc.Portfolio.Holdings {
			text += " " + strings.ToUpper(h.Symbol)
		}
	}
	symbols := t.e.agg.Tickers(text)
	if len(symbols) == 0 {
		return tc
	}
	quotes, err := t.e.market.Quotes(t.ctx, symbols)
	if err != nil {
		t.logger.Warn("load quotes failed", zap.Strings("symbols", symbols), zap.Error(err))
	}
	tc.Quotes = quotes
	return tc
}

// retrieve runs the knowledge tool when it is registered and falls back to
// the engine's own retriever otherwise.
func (t *turn) retrieve() ([]models.DocumentHit, string) {
	if t.e.topK <= 0 {
		return nil, ""
	}
	if !t.e.registry.Has(consts.ToolSearchKnowledge) {
		return t.retrieveDirect(), ""
	}
	args, _ := json.Marshal(map[string]any{"query": t.query, "k": t.e.topK})
	raw, err := t.e.registry.Resolve(consts.ToolSearchKnowledge).Invoke(t.toolContext(), string(args))
	if err != nil {
		t.e.metrics.Tool(consts.ToolSearchKnowledge, metrics.ToolError)
		t.logger.Warn("proactive retrieval failed", zap.Error(err))
		return nil, ""
	}
	t.e.metrics.Tool(consts.ToolSearchKnowledge, metrics.ToolOK)

	var decoded tools.KnowledgeOutput
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, raw
	}
	return decoded.Results, ""
}

func (t *turn) retrieveDirect() []models.DocumentHit {
	if t.e.knowledge == nil {
		return nil
	}
	docs, err := t.e.knowledge.Retrieve(t.ctx, t.query, t.e.topK)
	if err != nil {
		t.logger.Warn("proactive retrieval failed", zap.Error(err))
		return nil
	}
	return tools.DocumentHits(docs)
}

func (t *turn) plan(tc prompt.TurnContext) string {
	msgs, err := t.e.prompts.Plan(t.ctx, tc)
	if err != nil {
		t.logger.Error("build plan prompt failed", zap.Error(err))
		return llm.Apology
	}
	t.e.metrics.Model(metrics.PhasePlan)
	text, err := llm.Generate(t.ctx, t.e.model, msgs)
	if err != nil && t.ctx.Err() == nil {
		t.logger.Warn("plan generation failed", zap.Error(err))
	}
	return text
}

// executePlan runs every step in order and returns the newline-joined
// transcript. ok is false when the turn was cancelled.
func (t *turn) executePlan(plan *models.Plan) (string, bool) {
	lines := make([]string, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if t.ctx.Err() != nil {
			return "", false
		}
		if !t.out.Status(fmt.Sprintf("%s tool %s", consts.StatusPrefix, step.Tool)) {
			return "", false
		}
		lines = append(lines, fmt.Sprintf("%s: %s", step.Tool, t.dispatch(step)))
	}
	if t.ctx.Err() != nil {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

func (t *turn) dispatch(step models.PlanStep) string {
	args := "{}"
	if step.Args != nil {
		if b, err := json.Marshal(step.Args); err == nil {
			args = string(b)
		}
	}

	logger := t.logger.With(zap.String("tool", step.Tool))
	switch c := t.e.registry.Resolve(step.Tool).(type) {
	case tools.Unknown:
		t.e.metrics.Tool(c.Name, metrics.ToolNotFound)
		logger.Warn("plan referenced unknown tool")
		return fmt.Sprintf("tool %q not found", c.Name)
	default:
		result, err := c.Invoke(t.toolContext(), args)
		if err != nil {
			status := metrics.ToolError
			if errors.Is(err, tools.ErrToolNotFound) {
				status = metrics.ToolNotFound
			}
			t.e.metrics.Tool(c.ToolName(), status)
			logger.Warn("tool failed", zap.Error(err))
			return fmt.Sprintf("tool %q failed: %v", c.ToolName(), err)
		}
		t.e.metrics.Tool(c.ToolName(), metrics.ToolOK)
		return result
	}
}

// finalize streams the final answer to the caller and returns the
// accumulated text. ok is false when the turn was cancelled.
func (t *turn) finalize(plan *models.Plan, transcript string) (string, bool) {
	msgs, err := t.e.prompts.Final(t.ctx, prompt.FinalContext{
		Query:       t.query,
		FinalPrompt: plan.FinalPrompt,
		Transcript:  transcript,
	})
	if err != nil {
		t.logger.Error("build final prompt failed", zap.Error(err))
		return llm.Apology, t.out.Content(llm.Apology)
	}

	t.e.metrics.Model(metrics.PhaseFinal)
	sr, err := t.e.model.Stream(t.ctx, msgs)
	if err != nil {
		if t.ctx.Err() != nil {
			return "", false
		}
		t.logger.Warn("final stream failed", zap.Error(err))
		return llm.Apology, t.out.Content(llm.Apology)
	}
	defer sr.Close()

	var b strings.Builder
	for {
		if t.ctx.Err() != nil {
			return "", false
		}
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if t.ctx.Err() != nil {
				return "", false
			}
			t.logger.Warn("final stream interrupted", zap.Error(err))
			if b.Len() == 0 {
				b.WriteString(llm.Apology)
				if !t.out.Content(llm.Apology) {
					return "", false
				}
			}
			break
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if !t.out.Content(chunk.Content) {
			return "", false
		}
	}
	return b.String(), true
}

// persistable prefers the parsed FinalAnswer text over the raw stream.
func (t *turn) persistable(text string) string {
	res := t.e.sanitizer.Sanitize(text)
	if fa, ok := res.Output.(*models.FinalAnswer); ok && !res.Fallback {
		return fa.Text()
	}
	return text
}

func (t *turn) toolContext() context.Context {
	return tools.WithSessionID(t.ctx, t.sessionID)
}

func defaultSession(id string) *models.Session {
	return &models.Session{
		ID:             id,
		RiskProfile:    consts.DefaultRiskProfile,
		InvestmentGoal: consts.DefaultInvestmentGoal,
		PortfolioValue: decimal.NewFromInt(consts.DefaultPortfolioValue),
	}
}
