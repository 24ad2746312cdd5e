package agent

import (
	"context"
	"strings"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
)

type chanSink struct {
	ctx context.Context
	ch  chan<- string
}

func (s chanSink) send(v string) bool {
	select {
	case s.ch <- v:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s chanSink) Status(v string) bool  { return s.send(v) }
func (s chanSink) Content(v string) bool { return s.send(v) }

type collectSink struct {
	ctx context.Context
	b   *strings.Builder
}

func (s collectSink) Status(string) bool { return s.ctx.Err() == nil }

func (s collectSink) Content(v string) bool {
	if s.ctx.Err() != nil {
		return false
	}
	s.b.WriteString(v)
	return true
}

// Stream runs one turn and yields status markers (prefixed "STATUS:")
// interleaved with content increments. The channel is closed when the turn
// completes or ctx is cancelled; a cancelled turn writes no history.
func (e *Engine) Stream(ctx context.Context, query, sessionID string) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		out := chanSink{ctx: ctx, ch: ch}
		if _, err := e.run(ctx, query, sessionID, out); err != nil {
			if out.Status(consts.StatusPrefix + " " + consts.StateError + ": " + err.Error()) {
				out.Status(consts.StatusPrefix + " " + consts.StateComplete)
			}
		}
	}()
	return ch
}

// ProcessTurn runs one turn to completion and applies the advice safety pass
// to the answer. A cancelled turn returns ctx.Err(); a persistence failure
// returns an error wrapping ErrTurnFailed.
func (e *Engine) ProcessTurn(ctx context.Context, query, sessionID string) (*models.TurnResult, error) {
	var content strings.Builder
	res, err := e.run(ctx, query, sessionID, collectSink{ctx: ctx, b: &content})
	if err != nil {
		return nil, err
	}
	if res.cancelled {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.Canceled
	}

	advice := e.sanitizer.SanitizeAdvice(res.answer)
	executed := res.trades
	if executed == nil {
		executed = []models.Trade{}
	}
	return &models.TurnResult{
		Answer:             advice.Text(),
		ExecutedTrades:     executed,
		Sources:            res.sources,
		Intent:             advice.Advice.Intent,
		DisclaimerRequired: advice.Advice.DisclaimerRequired,
	}, nil
}
