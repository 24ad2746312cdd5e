package aggregator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/models"
)

const (
	NoPortfolio = "No portfolio on file."
	NoMarket    = "No market data available."
	NoDocuments = "No relevant documents found."
)

var (
	wordToken  = regexp.MustCompile(`\b[A-Za-z]{2,5}\b`)
	cashtag    = regexp.MustCompile(`\$([A-Za-z]{1,5}(?:[.-][A-Za-z]{1,2})?)\b`)
)

// Aggregator renders context blocks for the prompt and extracts candidate
// tickers from free text. It holds no mutable state.
type Aggregator struct {
	heuristics *config.Heuristics
	aliases    []aliasPattern
	symbols    map[string]struct{}
}

type aliasPattern struct {
	re     *regexp.Regexp
	symbol string
}

func New(h *config.Heuristics) *Aggregator {
	if h == nil {
		h = config.DefaultHeuristics()
	}
	a := &Aggregator{heuristics: h, symbols: make(map[string]struct{})}
	for _, alias := range h.Aliases() {
		symbol, _ := h.AliasSymbol(alias)
		a.symbols[symbol] = struct{}{}
		// 手动边界: alias 可能包含 & 或空格, \b 不可靠
		re := regexp.MustCompile(`(?i)(?:^|[^a-z0-9])` + regexp.QuoteMeta(alias) + `(?:$|[^a-z0-9])`)
		a.aliases = append(a.aliases, aliasPattern{re: re, symbol: symbol})
	}
	return a
}

// Tickers returns the de-duplicated, upper-cased, sorted symbols mentioned in text.
func (a *Aggregator) Tickers(text string) []string {
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			seen[s] = struct{}{}
		}
	}

	for _, p := range a.aliases {
		if p.re.MatchString(text) {
			add(p.symbol)
		}
	}
	for _, tok := range wordToken.FindAllString(text, -1) {
		if a.tickerToken(tok) {
			add(tok)
		}
	}
	for _, m := range cashtag.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// tickerToken accepts an all-caps word that is not a stopword, or any casing
// of a symbol the alias table lists, so "aapl" counts but "what" does not.
func (a *Aggregator) tickerToken(tok string) bool {
	upper := strings.ToUpper(tok)
	if tok == upper {
		return !a.heuristics.IsStopword(tok)
	}
	_, known := a.symbols[upper]
	return known
}

func (a *Aggregator) PortfolioBlock(p *models.PortfolioSnapshot) string {
	if p == nil || (len(p.Holdings) == 0 && p.Cash.IsZero()) {
		return NoPortfolio
	}
	var b strings.Builder
	b.WriteString("Holdings:\n")
	if len(p.Holdings) == 0 {
		b.WriteString("- none\n")
	}
	for _, h := range p.Holdings {
		fmt.Fprintf(&b, "- %s: %s shares", h.Symbol, h.Shares.String())
		if !h.AvgCost.IsZero() {
			fmt.Fprintf(&b, " @ avg cost %s", h.AvgCost.StringFixed(2))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Cash: %s\n", p.Cash.StringFixed(2))
	if !p.TotalValue.IsZero() {
		fmt.Fprintf(&b, "Total value: %s\n", p.TotalValue.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Aggregator) MarketBlock(quotes []models.Quote) string {
	if len(quotes) == 0 {
		return NoMarket
	}
	lines := make([]string, 0, len(quotes))
	for _, q := range quotes {
		line := fmt.Sprintf("- %s: %s (%+.2f%%)", q.Symbol, q.Price.StringFixed(2), q.ChangePercent)
		if q.Name != "" {
			line = fmt.Sprintf("- %s (%s): %s (%+.2f%%)", q.Symbol, q.Name, q.Price.StringFixed(2), q.ChangePercent)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (a *Aggregator) DocumentsBlock(hits []models.DocumentHit) string {
	if len(hits) == 0 {
		return NoDocuments
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s", i+1, h.Title)
		if h.Source != "" {
			fmt.Fprintf(&b, " (%s)", h.Source)
		}
		fmt.Fprintf(&b, " score=%.3f\n", h.Score)
		if s := strings.TrimSpace(h.Summary); s != "" {
			b.WriteString("    " + s + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
