package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed heuristics.yaml
var defaultHeuristics []byte

// Heuristics holds the lookup tables used by ticker extraction and the
// advice safety filter. A value is never mutated after LoadHeuristics returns.
type Heuristics struct {
	tickerAliases   map[string]string
	aliasKeys       []string
	tickerStopwords map[string]struct{}
	bannedPhrases   []string
}

type heuristicsFile struct {
	TickerAliases   map[string]string `yaml:"ticker_aliases"`
	TickerStopwords []string          `yaml:"ticker_stopwords"`
	BannedPhrases   []string          `yaml:"banned_phrases"`
}

// DefaultHeuristics parses the embedded tables.
func DefaultHeuristics() *Heuristics {
	h, err := parseHeuristics(defaultHeuristics)
	if err != nil {
		panic(fmt.Sprintf("embedded heuristics are invalid: %v", err))
	}
	return h
}

// LoadHeuristics reads an override file; an empty path yields the defaults.
func LoadHeuristics(path string) (*Heuristics, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultHeuristics(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read heuristics %s: %w", path, err)
	}
	h, err := parseHeuristics(data)
	if err != nil {
		return nil, fmt.Errorf("parse heuristics %s: %w", path, err)
	}
	return h, nil
}

func parseHeuristics(data []byte) (*Heuristics, error) {
	var file heuristicsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	h := &Heuristics{
		tickerAliases:   make(map[string]string, len(file.TickerAliases)),
		tickerStopwords: make(map[string]struct{}, len(file.TickerStopwords)),
	}
	for alias, symbol := range file.TickerAliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if alias == "" || symbol == "" {
			continue
		}
		h.tickerAliases[alias] = symbol
		h.aliasKeys = append(h.aliasKeys, alias)
	}
	sort.Strings(h.aliasKeys)
	for _, w := range file.TickerStopwords {
		h.tickerStopwords[strings.ToUpper(strings.TrimSpace(w))] = struct{}{}
	}
	for _, p := range file.BannedPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			h.bannedPhrases = append(h.bannedPhrases, p)
		}
	}
	return h, nil
}

// Aliases returns the alias keys in sorted order.
func (h *Heuristics) Aliases() []string {
	return append([]string(nil), h.aliasKeys...)
}

func (h *Heuristics) AliasSymbol(alias string) (string, bool) {
	s, ok := h.tickerAliases[strings.ToLower(alias)]
	return s, ok
}

func (h *Heuristics) IsStopword(word string) bool {
	_, ok := h.tickerStopwords[strings.ToUpper(word)]
	return ok
}

// BannedPhrases returns lower-cased phrases.
func (h *Heuristics) BannedPhrases() []string {
	return append([]string(nil), h.bannedPhrases...)
}
