package sanitizer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexAdvisor/config"
	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
)

func TestSanitizeIsTotal(t *testing.T) {
	s := New(config.DefaultHeuristics())
	inputs := []string{
		"",
		"   ",
		"plain words, no structure",
		"{",
		"}{",
		"{not json}",
		`{"type":"plan"}`,
		`{"type":"plan","steps":"nope","final_prompt":"x"}`,
		`{"type":"plan","steps":[{"tool":""}],"final_prompt":"x"}`,
		`{"type":"final"}`,
		`{"type":"final","answer_plain":"   "}`,
		`{"type":42}`,
		"<think>unterminated",
		"```json\n```",
		strings.Repeat("{", 1000),
	}
	for _, in := range inputs {
		res := s.Sanitize(in)
		require.NotNil(t, res.Output, "input %q", in)
		_, isFinal := res.Output.(*models.FinalAnswer)
		_, isPlan := res.Output.(*models.Plan)
		assert.True(t, isFinal || isPlan, "input %q", in)

		adv := s.SanitizeAdvice(in)
		assert.NotNil(t, adv.Advice.Trades, "input %q", in)
	}
}

func TestSanitizeFinalAnswerRoundTrip(t *testing.T) {
	s := New(nil)
	answers := []*models.FinalAnswer{
		{
			Type:          consts.OutputTypeFinal,
			AnswerPlain:   "Diversify.",
			AnswerVerbose: "Spread holdings across sectors to lower risk.",
		},
		{
			Type:          consts.OutputTypeFinal,
			AnswerPlain:   "Use `pip`.",
			AnswerVerbose: "Run ```pip install yfinance``` and then:\n```python\nprint(1)\n```",
		},
	}
	for _, want := range answers {
		data, err := json.Marshal(want)
		require.NoError(t, err)

		for _, raw := range []string{string(data), "```json\n" + string(data) + "\n```"} {
			res := s.Sanitize(raw)
			assert.False(t, res.Fallback, raw)
			if diff := cmp.Diff(want, res.Output); diff != "" {
				t.Fatalf("final answer mismatch for %q (-want +got):\n%s", raw, diff)
			}
			assert.Equal(t, want.AnswerVerbose, res.Text())
			assert.Empty(t, res.Commentary)
		}
	}
}

func TestCleanKeepsInnerFences(t *testing.T) {
	s := New(nil)
	assert.Equal(t, "Try:\n```python\nprint(1)\n```", s.Clean("Try:\n```python\nprint(1)\n```"))
	assert.Equal(t, `{"a":1}`, s.Clean("```json\n{\"a\":1}\n```"))
}

func TestSanitizeStripsScratchpadAndFence(t *testing.T) {
	s := New(nil)
	raw := "<THINK>\nuser wants a price\n</THINK>\nSure.\n<analysis>{\"type\":\"final\"}</analysis>\n```json\n" +
		`{"type":"plan","steps":[{"tool":"get_price","args":{"symbol":"AAPL"},"why":"need price"}],"final_prompt":"Summarize."}` +
		"\n```\ntrailing noise"

	res := s.Sanitize(raw)
	plan, ok := res.Plan()
	require.True(t, ok)
	want := &models.Plan{
		Type:        consts.OutputTypePlan,
		Steps:       []models.PlanStep{{Tool: "get_price", Args: map[string]any{"symbol": "AAPL"}, Why: "need price"}},
		FinalPrompt: "Summarize.",
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Fatalf("plan mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Sure.", res.Commentary)
}

func TestSanitizeDropsResidualClosingTag(t *testing.T) {
	s := New(nil)
	res := s.Sanitize("half a thought</think>Buy index funds.")
	assert.True(t, res.Fallback)
	assert.Equal(t, "Buy index funds.", res.Text())
}

func TestSanitizeFallbackForUnparsableText(t *testing.T) {
	s := New(nil)
	res := s.Sanitize("I am not sure what you mean.")
	assert.True(t, res.Fallback)
	assert.Equal(t, "I am not sure what you mean.", res.Text())

	adv := s.SanitizeAdvice("I am not sure what you mean.")
	assert.True(t, adv.Fallback)
	if diff := cmp.Diff(FallbackAdvice(), adv.Advice); diff != "" {
		t.Fatalf("advice fallback mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, adv.Advice.Trades)
	assert.Equal(t, consts.IntentInfo, adv.Advice.Intent)
}

func TestSanitizeAdviceSafetyPassKeepsPayload(t *testing.T) {
	s := New(config.DefaultHeuristics())
	payload := `{"trades":[{"symbol":"AAPL","action":"BUY","qty":2}],"disclaimer_required":false,"intent":"TRADE"}`
	raw := "Apple looks strong. This is a guaranteed return! Consider a small position.\n" + payload

	res := s.SanitizeAdvice(raw)
	assert.False(t, res.Fallback)
	assert.Equal(t, "Apple looks strong. Consider a small position.", res.Commentary)
	assert.Equal(t, payload, res.Payload)
	assert.Equal(t, "TRADE", res.Advice.Intent)
	assert.Equal(t, []models.TradeInstruction{{Symbol: "AAPL", Action: "BUY", Qty: 2}}, res.Advice.Trades)
	assert.True(t, strings.HasSuffix(res.Text(), payload))
}

func TestSanitizeAdviceMissingFieldsFallsBack(t *testing.T) {
	s := New(nil)
	res := s.SanitizeAdvice(`Here you go {"trades":[],"intent":"INFO"}`)
	assert.True(t, res.Fallback)
	assert.True(t, res.Advice.DisclaimerRequired)
}

func TestExtractSpan(t *testing.T) {
	before, span, ok := ExtractSpan(`note {"a":{"b":1}} tail`)
	assert.True(t, ok)
	assert.Equal(t, "note", before)
	assert.Equal(t, `{"a":{"b":1}}`, span)

	_, _, ok = ExtractSpan("} backwards {")
	assert.False(t, ok)
}

func TestCleanLeavesProseFencesAlone(t *testing.T) {
	s := New(nil)
	raw := "```python\nprint(1)\n```\nthen\n```bash\nls\n```"
	assert.Equal(t, raw, s.Clean(raw))
}
