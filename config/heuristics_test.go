package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeuristics(t *testing.T) {
	h := DefaultHeuristics()

	sym, ok := h.AliasSymbol("Apple")
	require.True(t, ok)
	assert.Equal(t, "AAPL", sym)

	assert.True(t, h.IsStopword("ceo"))
	assert.False(t, h.IsStopword("AAPL"))
	assert.Contains(t, h.BannedPhrases(), "guaranteed return")
}

func TestHeuristicsAccessorsReturnCopies(t *testing.T) {
	h := DefaultHeuristics()

	phrases := h.BannedPhrases()
	phrases[0] = "mutated"
	assert.NotEqual(t, "mutated", h.BannedPhrases()[0])

	aliases := h.Aliases()
	aliases[0] = "mutated"
	assert.NotEqual(t, "mutated", h.Aliases()[0])
}

func TestLoadHeuristicsMissingFile(t *testing.T) {
	_, err := LoadHeuristics("/nonexistent/heuristics.yaml")
	require.Error(t, err)
}
