package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/aggregator"
	"github.com/dyike/CortexAdvisor/models"
)

const DefaultHistoryWindow = 6

// TurnContext is everything the planning call sees.
type TurnContext struct {
	Query     string
	Session   *models.Session
	Portfolio *models.PortfolioSnapshot
	Quotes    []models.Quote
	Documents []models.DocumentHit

	// DocumentsText is used verbatim when retrieval output could not be decoded into hits.
	DocumentsText string
	History       []models.ChatMessage
}

// FinalContext feeds the streaming final-answer call.
type FinalContext struct {
	Query       string
	FinalPrompt string
	Transcript  string
}

type Builder struct {
	agg           *aggregator.Aggregator
	tools         []models.ToolDescriptor
	historyWindow int
	now           func() time.Time

	plan  prompt.ChatTemplate
	final prompt.ChatTemplate
}

type Option func(*Builder)

// WithHistoryWindow sets how many prior messages are rendered. Negative
// values are ignored.
func WithHistoryWindow(n int) Option {
	return func(b *Builder) {
		if n >= 0 {
			b.historyWindow = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBuilder(agg *aggregator.Aggregator, tools []models.ToolDescriptor, opts ...Option) (*Builder, error) {
	if agg == nil {
		agg = aggregator.New(nil)
	}
	b := &Builder{
		agg:           agg,
		tools:         tools,
		historyWindow: DefaultHistoryWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	templates := map[string]string{}
	for _, name := range []string{"plan_system", "plan_user", "final_system", "final_user"} {
		text, err := loadPrompt(name)
		if err != nil {
			return nil, err
		}
		templates[name] = text
	}

	b.plan = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(templates["plan_system"]),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage(templates["plan_user"]),
	)
	b.final = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(templates["final_system"]),
		schema.UserMessage(templates["final_user"]),
	)
	return b, nil
}

// Plan renders the system block, the history window and the per-turn block.
func (b *Builder) Plan(ctx context.Context, tc TurnContext) ([]*schema.Message, error) {
	sess := tc.Session
	if sess == nil {
		sess = &models.Session{
			RiskProfile:    consts.DefaultRiskProfile,
			InvestmentGoal: consts.DefaultInvestmentGoal,
		}
	}

	documents := b.agg.DocumentsBlock(tc.Documents)
	if len(tc.Documents) == 0 && strings.TrimSpace(tc.DocumentsText) != "" {
		documents = strings.TrimSpace(tc.DocumentsText)
	}

	vars := map[string]any{
		"current_date":    b.now().Format("2006-01-02"),
		"tools":           b.toolCatalog(),
		"history":         b.historyMessages(tc.History),
		"risk_profile":    sess.RiskProfile,
		"investment_goal": sess.InvestmentGoal,
		"portfolio_value": sess.PortfolioValue.StringFixed(2),
		"portfolio":       b.agg.PortfolioBlock(tc.Portfolio),
		"market":          b.agg.MarketBlock(tc.Quotes),
		"documents":       documents,
		"query":           tc.Query,
	}
	msgs, err := b.plan.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format plan prompt: %w", err)
	}
	return msgs, nil
}

func (b *Builder) Final(ctx context.Context, fc FinalContext) ([]*schema.Message, error) {
	instruction := strings.TrimSpace(fc.FinalPrompt)
	if instruction == "" {
		instruction = "Answer the question using the tool results."
	}
	transcript := strings.TrimSpace(fc.Transcript)
	if transcript == "" {
		transcript = "No tool output."
	}
	msgs, err := b.final.Format(ctx, map[string]any{
		"current_date": b.now().Format("2006-01-02"),
		"final_prompt": instruction,
		"transcript":   transcript,
		"query":        fc.Query,
	})
	if err != nil {
		return nil, fmt.Errorf("format final prompt: %w", err)
	}
	return msgs, nil
}

func (b *Builder) toolCatalog() string {
	if len(b.tools) == 0 {
		return "No tools are available."
	}
	lines := make([]string, 0, len(b.tools))
	for _, t := range b.tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) historyMessages(history []models.ChatMessage) []*schema.Message {
	if b.historyWindow == 0 || len(history) == 0 {
		return []*schema.Message{}
	}
	if len(history) > b.historyWindow {
		history = history[len(history)-b.historyWindow:]
	}
	msgs := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case consts.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		case consts.RoleUser:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}
	return msgs
}
