package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	t_utils "github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/internal/dataflows"
	"github.com/dyike/CortexAdvisor/models"
)

type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
}

type SessionStore interface {
	GetOrCreateSession(ctx context.Context, sessionID string) (*models.Session, error)
}

type PortfolioStore interface {
	LatestPortfolio(ctx context.Context, sessionID string) (*models.PortfolioSnapshot, error)
}

type TradeStore interface {
	AppendTrade(ctx context.Context, trade *models.Trade) error
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.ScoredDocument, error)
}

// Deps are the collaborators of the built-in tools. A tool whose
// collaborator is nil is not registered.
type Deps struct {
	Quotes     QuoteSource
	Sessions   SessionStore
	Portfolios PortfolioStore
	Trades     TradeStore
	Knowledge  Retriever
	DefaultK   int
}

const summaryRunes = 280

type SymbolInput struct {
	Symbol string `json:"symbol"`
}

type ProfileInput struct{}

type ProfileOutput struct {
	RiskProfile    string          `json:"risk_profile"`
	InvestmentGoal string          `json:"investment_goal"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
}

type KnowledgeInput struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type KnowledgeOutput struct {
	Results []models.DocumentHit `json:"results"`
}

type OwnedSharesOutput struct {
	Symbol string          `json:"symbol"`
	Shares decimal.Decimal `json:"shares"`
}

type TradeInput struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Reason string  `json:"reason"`
}

type TradeOutput struct {
	TradeID  string              `json:"trade_id"`
	Symbol   string              `json:"symbol"`
	Action   string              `json:"action"`
	Quantity decimal.Decimal     `json:"quantity"`
	Price    decimal.NullDecimal `json:"price"`
	Status   string              `json:"status"`
}

// Builtins returns the standard tool set for the given collaborators.
func Builtins(deps Deps) []tool.InvokableTool {
	var out []tool.InvokableTool
	if deps.Quotes != nil {
		out = append(out, NewPriceTool(deps.Quotes))
	}
	if deps.Sessions != nil {
		out = append(out, NewProfileTool(deps.Sessions))
	}
	if deps.Knowledge != nil {
		out = append(out, NewKnowledgeTool(deps.Knowledge, deps.DefaultK))
	}
	if deps.Portfolios != nil {
		out = append(out, NewOwnedSharesTool(deps.Portfolios))
	}
	if deps.Trades != nil {
		out = append(out,
			NewTradeTool(consts.ToolBuy, consts.ActionBuy, deps.Trades, deps.Quotes),
			NewTradeTool(consts.ToolSell, consts.ActionSell, deps.Trades, deps.Quotes),
		)
	}
	return out
}

func symbolParams() map[string]*schema.ParameterInfo {
	return map[string]*schema.ParameterInfo{
		"symbol": {
			Type:     "string",
			Desc:     "Ticker symbol, e.g. AAPL",
			Required: true,
		},
	}
}

func NewPriceTool(quotes QuoteSource) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        consts.ToolGetPrice,
			Desc:        "Get the latest market price and daily change for a ticker symbol",
			ParamsOneOf: schema.NewParamsOneOfByParams(symbolParams()),
		},
		func(ctx context.Context, input SymbolInput) (*models.Quote, error) {
			symbol := dataflows.NormalizeSymbol(input.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			return quotes.Quote(ctx, symbol)
		},
	)
}

func NewProfileTool(sessions SessionStore) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        consts.ToolGetProfile,
			Desc:        "Get the client's risk profile, investment goal and portfolio value",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ ProfileInput) (*ProfileOutput, error) {
			sess, err := sessions.GetOrCreateSession(ctx, SessionIDFrom(ctx))
			if err != nil {
				return nil, err
			}
			return &ProfileOutput{
				RiskProfile:    sess.RiskProfile,
				InvestmentGoal: sess.InvestmentGoal,
				PortfolioValue: sess.PortfolioValue,
			}, nil
		},
	)
}

func NewKnowledgeTool(knowledge Retriever, defaultK int) tool.InvokableTool {
	if defaultK <= 0 {
		defaultK = 3
	}
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: consts.ToolSearchKnowledge,
			Desc: "Search the financial knowledge base for documents relevant to a query",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "What to search for",
					Required: true,
				},
				"k": {
					Type:     "integer",
					Desc:     fmt.Sprintf("Maximum number of documents (default: %d)", defaultK),
					Required: false,
				},
			}),
		},
		func(ctx context.Context, input KnowledgeInput) (*KnowledgeOutput, error) {
			if strings.TrimSpace(input.Query) == "" {
				return nil, fmt.Errorf("query parameter is required")
			}
			k := input.K
			if k <= 0 {
				k = defaultK
			}
			docs, err := knowledge.Retrieve(ctx, input.Query, k)
			if err != nil {
				return nil, err
			}
			return &KnowledgeOutput{Results: DocumentHits(docs)}, nil
		},
	)
}

// DocumentHits compacts ranked documents into prompt-sized summaries.
func DocumentHits(docs []models.ScoredDocument) []models.DocumentHit {
	out := make([]models.DocumentHit, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.DocumentHit{
			Title:    d.Document.Title,
			Source:   d.Document.Source,
			Category: d.Document.Category,
			Score:    d.Score,
			Summary:  dataflows.Summarize(d.Document.Content, summaryRunes),
		})
	}
	return out
}

func NewOwnedSharesTool(portfolios PortfolioStore) tool.InvokableTool {
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name:        consts.ToolGetOwnedShares,
			Desc:        "Get how many shares of a ticker the client currently holds",
			ParamsOneOf: schema.NewParamsOneOfByParams(symbolParams()),
		},
		func(ctx context.Context, input SymbolInput) (*OwnedSharesOutput, error) {
			symbol := dataflows.NormalizeSymbol(input.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			snap, err := portfolios.LatestPortfolio(ctx, SessionIDFrom(ctx))
			if err != nil {
				return nil, err
			}
			return &OwnedSharesOutput{Symbol: symbol, Shares: snap.SharesOf(symbol)}, nil
		},
	)
}

// NewTradeTool records a simulated trade. The price is filled from quotes
// when a quote source is available and answers.
func NewTradeTool(name, action string, trades TradeStore, quotes QuoteSource) tool.InvokableTool {
	verb := strings.ToLower(action)
	return t_utils.NewTool(
		&schema.ToolInfo{
			Name: name,
			Desc: fmt.Sprintf("Record a simulated %s order in the client's trade ledger", verb),
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"symbol": {
					Type:     "string",
					Desc:     "Ticker symbol, e.g. AAPL",
					Required: true,
				},
				"qty": {
					Type:     "number",
					Desc:     fmt.Sprintf("Number of shares to %s", verb),
					Required: true,
				},
				"reason": {
					Type:     "string",
					Desc:     "Short rationale recorded with the trade",
					Required: false,
				},
			}),
		},
		func(ctx context.Context, input TradeInput) (*TradeOutput, error) {
			symbol := dataflows.NormalizeSymbol(input.Symbol)
			if symbol == "" {
				return nil, fmt.Errorf("symbol parameter is required")
			}
			if input.Qty <= 0 {
				return nil, fmt.Errorf("qty must be positive")
			}

			trade := &models.Trade{
				SessionID: SessionIDFrom(ctx),
				Symbol:    symbol,
				Action:    action,
				Quantity:  decimal.NewFromFloat(input.Qty),
				Reasoning: input.Reason,
			}
			if quotes != nil {
				if q, err := quotes.Quote(ctx, symbol); err == nil && q != nil {
					trade.Price = decimal.NewNullDecimal(q.Price)
				}
			}
			if err := trades.AppendTrade(ctx, trade); err != nil {
				return nil, err
			}
			return &TradeOutput{
				TradeID:  trade.ID,
				Symbol:   trade.Symbol,
				Action:   trade.Action,
				Quantity: trade.Quantity,
				Price:    trade.Price,
				Status:   "simulated",
			}, nil
		},
	)
}
