package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
)

// UI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Faint(true)

	toolCallStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8B5CF6"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6"))
)

// streamRenderer writes a turn's increments to a terminal. Status lines go on
// their own line; content is written verbatim as it arrives.
type streamRenderer struct {
	w      io.Writer
	styled bool

	midLine  bool
	content  strings.Builder
	statuses []string
}

func newStreamRenderer(w io.Writer, styled bool) *streamRenderer {
	return &streamRenderer{w: w, styled: styled}
}

func (r *streamRenderer) render(style lipgloss.Style, s string) string {
	if !r.styled {
		return s
	}
	return style.Render(s)
}

func (r *streamRenderer) Write(increment string) {
	if state, ok := strings.CutPrefix(increment, consts.StatusPrefix); ok {
		state = strings.TrimSpace(state)
		r.statuses = append(r.statuses, state)
		if r.midLine {
			fmt.Fprintln(r.w)
			r.midLine = false
		}
		fmt.Fprintln(r.w, r.render(statusStyleFor(state), "· "+state))
		return
	}
	if increment == "" {
		return
	}
	r.content.WriteString(increment)
	fmt.Fprint(r.w, increment)
	r.midLine = !strings.HasSuffix(increment, "\n")
}

// Drain consumes ch until it closes.
func (r *streamRenderer) Drain(ch <-chan string) {
	for inc := range ch {
		r.Write(inc)
	}
	if r.midLine {
		fmt.Fprintln(r.w)
		r.midLine = false
	}
}

func (r *streamRenderer) Content() string { return r.content.String() }

func (r *streamRenderer) Completed() bool {
	return len(r.statuses) > 0 && r.statuses[len(r.statuses)-1] == consts.StateComplete
}

func statusStyleFor(state string) lipgloss.Style {
	switch {
	case state == consts.StateComplete:
		return completedStyle
	case strings.HasPrefix(state, "error"):
		return errorStyle
	case strings.HasPrefix(state, "tool "):
		return toolCallStyle
	default:
		return statusStyle
	}
}

func formatTrades(trades []models.Trade) string {
	if len(trades) == 0 {
		return "No trades recorded."
	}
	var b strings.Builder
	for _, t := range trades {
		price := "n/a"
		if t.Price.Valid {
			price = t.Price.Decimal.StringFixed(2)
		}
		fmt.Fprintf(&b, "%s  %-4s %-6s qty=%s price=%s",
			t.ExecutedAt.Local().Format("2006-01-02 15:04"), t.Action, t.Symbol, t.Quantity.String(), price)
		if t.Reasoning != "" {
			fmt.Fprintf(&b, "  %s", truncate(t.Reasoning, 60))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHits(hits []models.ScoredDocument) string {
	if len(hits) == 0 {
		return "No matching documents."
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] %s (%s) score=%s\n", i+1, h.Document.Title, h.Document.Source,
			decimal.NewFromFloat(h.Score).StringFixed(3))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
