package models

import "github.com/dyike/CortexAdvisor/consts"

// ModelOutput is what the model may legally emit: a *Plan or a *FinalAnswer.
type ModelOutput interface {
	OutputType() string
}

type PlanStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
	Why  string         `json:"why"`
}

type Plan struct {
	Type        string     `json:"type"`
	Steps       []PlanStep `json:"steps"`
	FinalPrompt string     `json:"final_prompt"`
}

func (p *Plan) OutputType() string { return consts.OutputTypePlan }

type FinalAnswer struct {
	Type          string `json:"type"`
	AnswerPlain   string `json:"answer_plain"`
	AnswerVerbose string `json:"answer_verbose"`
}

func (f *FinalAnswer) OutputType() string { return consts.OutputTypeFinal }

// Text prefers the verbose answer and falls back to the plain one.
func (f *FinalAnswer) Text() string {
	if f == nil {
		return ""
	}
	if f.AnswerVerbose != "" {
		return f.AnswerVerbose
	}
	return f.AnswerPlain
}

type TradeInstruction struct {
	Symbol string  `json:"symbol"`
	Action string  `json:"action"`
	Qty    float64 `json:"qty"`
}

// Advice is the structured payload of the advice-generation path.
type Advice struct {
	Trades             []TradeInstruction `json:"trades"`
	DisclaimerRequired bool               `json:"disclaimer_required"`
	Intent             string             `json:"intent"`
}
