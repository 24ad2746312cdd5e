package sanitizer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
)

var scratchpadTags = []string{"think", "thinking", "scratchpad", "reasoning", "analysis"}

// wrapFence matches a fence around the whole reply. It is only unwrapped
// when the body is structured; fences inside the body are content.
var wrapFence = regexp.MustCompile("(?s)^```[\\w-]*[ \t]*\r?\n(.*?)\r?\n?```$")

// openFence is a dangling fence opener right before the structured span.
var openFence = regexp.MustCompile("(?s)```[\\w-]*[ \t]*$")

type scratchpad struct {
	block   *regexp.Regexp
	closing *regexp.Regexp
}

// Sanitizer turns raw model text into a validated structured value. Every
// method is total: malformed input degrades to a fallback, never an error.
type Sanitizer struct {
	pads   []scratchpad
	banned []string
}

func New(h *config.Heuristics) *Sanitizer {
	if h == nil {
		h = config.DefaultHeuristics()
	}
	s := &Sanitizer{banned: h.BannedPhrases()}
	for _, tag := range scratchpadTags {
		s.pads = append(s.pads, scratchpad{
			block:   regexp.MustCompile(`(?is)<` + tag + `(?:\s[^>]*)?>.*?</` + tag + `\s*>`),
			closing: regexp.MustCompile(`(?is)^.*?</` + tag + `\s*>`),
		})
	}
	return s
}

// Result is the agent-mode outcome. Output is a *models.Plan or a
// *models.FinalAnswer; Fallback marks an answer synthesized from Cleaned.
type Result struct {
	Output     models.ModelOutput
	Commentary string
	Cleaned    string
	Fallback   bool
}

// Text is what a direct answer shows to the user.
func (r Result) Text() string {
	if fa, ok := r.Output.(*models.FinalAnswer); ok && !r.Fallback {
		return fa.Text()
	}
	return r.Cleaned
}

// Plan returns the plan when the model asked for tools.
func (r Result) Plan() (*models.Plan, bool) {
	p, ok := r.Output.(*models.Plan)
	return p, ok
}

// AdviceResult is the advice-mode outcome after the safety pass.
type AdviceResult struct {
	Advice     models.Advice
	Commentary string
	Payload    string
	Fallback   bool
}

// Text joins the filtered commentary with the untouched payload.
func (r AdviceResult) Text() string {
	switch {
	case r.Commentary == "":
		return r.Payload
	case r.Payload == "":
		return r.Commentary
	default:
		return r.Commentary + "\n\n" + r.Payload
	}
}

// FallbackAdvice is returned whenever the advice payload is unusable.
func FallbackAdvice() models.Advice {
	return models.Advice{
		Trades:             []models.TradeInstruction{},
		DisclaimerRequired: true,
		Intent:             consts.IntentInfo,
	}
}

func (s *Sanitizer) Clean(raw string) string {
	text := raw
	for _, p := range s.pads {
		text = p.block.ReplaceAllString(text, "")
	}
	// 截断的 scratchpad: 只剩闭合标签
	for _, p := range s.pads {
		text = p.closing.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)
	if m := wrapFence.FindStringSubmatch(text); m != nil && strings.HasPrefix(strings.TrimSpace(m[1]), "{") {
		text = m[1]
	}
	return strings.TrimSpace(text)
}

// commentary is the text before the span without a fence opener that wrapped it.
func commentary(before string) string {
	return strings.TrimSpace(openFence.ReplaceAllString(before, ""))
}

// Sanitize parses agent-mode output: a plan or a final answer.
func (s *Sanitizer) Sanitize(raw string) Result {
	cleaned := s.Clean(raw)
	before, span, ok := ExtractSpan(cleaned)
	if ok {
		if out := parseModelOutput(span); out != nil {
			return Result{Output: out, Commentary: commentary(before), Cleaned: cleaned}
		}
	}
	return Result{
		Output:   &models.FinalAnswer{Type: consts.OutputTypeFinal, AnswerPlain: cleaned},
		Cleaned:  cleaned,
		Fallback: true,
	}
}

// SanitizeAdvice parses advice-mode output and filters banned sentences out
// of the commentary that precedes the payload.
func (s *Sanitizer) SanitizeAdvice(raw string) AdviceResult {
	cleaned := s.Clean(raw)
	before, span, ok := ExtractSpan(cleaned)
	if !ok {
		return AdviceResult{
			Advice:     FallbackAdvice(),
			Commentary: s.FilterBanned(cleaned),
			Fallback:   true,
		}
	}

	res := AdviceResult{Commentary: s.FilterBanned(commentary(before)), Payload: span}
	if advice, ok := parseAdvice(span); ok {
		res.Advice = advice
	} else {
		res.Advice = FallbackAdvice()
		res.Fallback = true
	}
	return res
}

// FilterBanned drops every sentence containing a banned phrase.
func (s *Sanitizer) FilterBanned(text string) string {
	if len(s.banned) == 0 || strings.TrimSpace(text) == "" {
		return strings.TrimSpace(text)
	}
	var b strings.Builder
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		drop := false
		for _, phrase := range s.banned {
			if strings.Contains(lower, phrase) {
				drop = true
				break
			}
		}
		if !drop {
			b.WriteString(sentence)
		}
	}
	return strings.TrimSpace(b.String())
}

// ExtractSpan splits text at the first '{' and the last '}'. before is the
// commentary preceding the span; anything after the span is discarded.
func ExtractSpan(text string) (before, span string, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return strings.TrimSpace(text), "", false
	}
	return strings.TrimSpace(text[:start]), text[start : end+1], true
}

func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		end := false
		switch c {
		case '\n':
			end = true
		case '.', '!', '?':
			end = i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t'
		}
		if !end {
			continue
		}
		j := i + 1
		for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n') {
			j++
		}
		out = append(out, text[start:j])
		start = j
		i = j - 1
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func parseModelOutput(span string) models.ModelOutput {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &probe); err != nil {
		return nil
	}
	var kind string
	if err := json.Unmarshal(probe["type"], &kind); err != nil {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case consts.OutputTypePlan:
		if !validPlan(probe) {
			return nil
		}
		var plan models.Plan
		if err := json.Unmarshal([]byte(span), &plan); err != nil {
			return nil
		}
		plan.Type = consts.OutputTypePlan
		return &plan
	case consts.OutputTypeFinal:
		var fa models.FinalAnswer
		if err := json.Unmarshal([]byte(span), &fa); err != nil {
			return nil
		}
		if strings.TrimSpace(fa.AnswerPlain) == "" && strings.TrimSpace(fa.AnswerVerbose) == "" {
			return nil
		}
		fa.Type = consts.OutputTypeFinal
		return &fa
	}
	return nil
}

func validPlan(probe map[string]json.RawMessage) bool {
	var steps []map[string]json.RawMessage
	if err := json.Unmarshal(probe["steps"], &steps); err != nil || steps == nil {
		return false
	}
	for _, step := range steps {
		var name string
		if err := json.Unmarshal(step["tool"], &name); err != nil || strings.TrimSpace(name) == "" {
			return false
		}
		if raw, ok := step["args"]; ok && string(raw) != "null" {
			var args map[string]any
			if err := json.Unmarshal(raw, &args); err != nil {
				return false
			}
		}
	}
	var finalPrompt string
	return json.Unmarshal(probe["final_prompt"], &finalPrompt) == nil
}

func parseAdvice(span string) (models.Advice, bool) {
	var probe struct {
		Trades             []json.RawMessage `json:"trades"`
		DisclaimerRequired *bool             `json:"disclaimer_required"`
		Intent             *string           `json:"intent"`
	}
	if err := json.Unmarshal([]byte(span), &probe); err != nil {
		return models.Advice{}, false
	}
	if probe.Trades == nil || probe.DisclaimerRequired == nil || probe.Intent == nil {
		return models.Advice{}, false
	}
	advice := models.Advice{
		Trades:             make([]models.TradeInstruction, 0, len(probe.Trades)),
		DisclaimerRequired: *probe.DisclaimerRequired,
		Intent:             *probe.Intent,
	}
	for _, raw := range probe.Trades {
		var ti models.TradeInstruction
		if err := json.Unmarshal(raw, &ti); err != nil {
			continue
		}
		advice.Trades = append(advice.Trades, ti)
	}
	return advice, true
}
