package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexAdvisor/internal/agent"
	"github.com/dyike/CortexAdvisor/internal/storage"
	"github.com/dyike/CortexAdvisor/internal/tools"
	"github.com/dyike/CortexAdvisor/models"
	"github.com/dyike/CortexAdvisor/pkg/app"
)

const finalJSON = `{"type":"final","answer_plain":"Stay diversified.","answer_verbose":"Stay diversified."}`

type answerModel struct {
	block bool
}

func (m answerModel) Generate(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return schema.AssistantMessage(finalJSON, nil), nil
}

func (answerModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage("unused", nil)}), nil
}

type staticSource struct {
	eng  *app.Engine
	held atomic.Int32
}

func (s *staticSource) Acquire() (*app.Engine, func(), error) {
	if s.eng == nil {
		return nil, nil, app.ErrNoEngine
	}
	s.held.Add(1)
	return s.eng, func() { s.held.Add(-1) }, nil
}

// closingModel answers after closing the store, so persisting the turn fails.
type closingModel struct {
	store *storage.Store
}

func (m *closingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	_ = m.store.Close()
	return schema.AssistantMessage(finalJSON, nil), nil
}

func (m *closingModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not streaming")
}

func newEngine(t *testing.T, m model.BaseChatModel) *app.Engine {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "advisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := tools.NewRegistry(context.Background())
	require.NoError(t, err)
	a, err := agent.New(agent.Deps{Model: m, Store: store, Registry: reg})
	require.NoError(t, err)
	return &app.Engine{Agent: a, Store: store, Version: 7}
}

type recorder struct {
	mu     sync.Mutex
	events []string
	done   chan finishedEvent
}

func newRecorder() *recorder {
	return &recorder{done: make(chan finishedEvent, 1)}
}

func (r *recorder) notify(topic, payload string) {
	r.mu.Lock()
	r.events = append(r.events, topic)
	r.mu.Unlock()
	if topic == TopicFinished {
		var ev finishedEvent
		_ = json.Unmarshal([]byte(payload), &ev)
		r.done <- ev
	}
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestAskPersistsHistory(t *testing.T) {
	src := &staticSource{eng: newEngine(t, answerModel{})}
	svc := New(src, nil, nil, "test")
	defer svc.Close()

	res, err := svc.Call("agent.ask", `{"session_id":"s1","query":"How should I allocate?"}`)
	require.NoError(t, err)
	turn, ok := res.(*models.TurnResult)
	require.True(t, ok)
	assert.Contains(t, turn.Answer, "Stay diversified.")
	assert.NotNil(t, turn.ExecutedTrades)

	hist, err := svc.Call("agent.history", `{"session_id":"s1"}`)
	require.NoError(t, err)
	msgs := hist.([]models.ChatMessage)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "How should I allocate?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)

	trades, err := svc.Call("agent.trades", `{"session_id":"s1"}`)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Zero(t, src.held.Load())
}

func TestStreamPushesEvents(t *testing.T) {
	rec := newRecorder()
	src := &staticSource{eng: newEngine(t, answerModel{})}
	svc := New(src, rec.notify, nil, "test")
	defer svc.Close()

	started, err := svc.StartStream(`{"session_id":"s2","query":"Is cash a position?"}`)
	require.NoError(t, err)
	assert.Equal(t, "s2", started.SessionID)
	assert.NotEmpty(t, started.StreamID)

	select {
	case ev := <-rec.done:
		assert.True(t, ev.Completed)
		assert.Equal(t, started.StreamID, ev.StreamID)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}

	topics := rec.topics()
	assert.Equal(t, TopicStatus, topics[0])
	assert.Contains(t, topics, TopicContent)
	assert.Equal(t, TopicFinished, topics[len(topics)-1])

	svc.Close()
	assert.Zero(t, src.held.Load(), "stream still holds the engine")
}

func TestStreamReportsPersistFailure(t *testing.T) {
	rec := newRecorder()
	m := &closingModel{}
	eng := newEngine(t, m)
	m.store = eng.Store
	svc := New(&staticSource{eng: eng}, rec.notify, nil, "test")
	defer svc.Close()

	_, err := svc.StartStream(`{"session_id":"s3","query":"Should I sell?"}`)
	require.NoError(t, err)

	select {
	case ev := <-rec.done:
		assert.False(t, ev.Completed)
		assert.Contains(t, ev.Error, "persist history")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
}

func TestCancelStopsStream(t *testing.T) {
	rec := newRecorder()
	svc := New(&staticSource{eng: newEngine(t, answerModel{block: true})}, rec.notify, nil, "test")
	defer svc.Close()

	started, err := svc.StartStream(`{"query":"slow question"}`)
	require.NoError(t, err)
	assert.Equal(t, "default", started.SessionID)

	_, err = svc.Call("agent.cancel", `{"stream_id":"`+started.StreamID+`"}`)
	require.NoError(t, err)

	select {
	case ev := <-rec.done:
		assert.False(t, ev.Completed)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled stream did not finish")
	}
}

func TestCallErrors(t *testing.T) {
	svc := New(&staticSource{}, nil, nil, "test")
	defer svc.Close()

	_, err := svc.Call("agent.unknown", "")
	assert.ErrorIs(t, err, ErrMethodNotFound)

	_, err = svc.Call("agent.ask", `{"query":"hi"}`)
	assert.ErrorIs(t, err, app.ErrNoEngine)

	_, err = svc.Call("agent.ask", `{"query":"  "}`)
	assert.Error(t, err)

	_, err = svc.Call("agent.cancel", `{"stream_id":"nope"}`)
	assert.ErrorIs(t, err, ErrUnknownStream)

	info, err := svc.Call("system.info", "")
	require.NoError(t, err)
	assert.Equal(t, "test", info.(map[string]any)["version"])
}
