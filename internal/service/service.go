// Package service exposes the advisor to embedding hosts through JSON
// method calls and pushed events.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyike/CortexAdvisor/consts"
	"github.com/dyike/CortexAdvisor/models"
	"github.com/dyike/CortexAdvisor/pkg/app"
)

// Event topics pushed to the host.
const (
	TopicStatus   = "agent.status"
	TopicContent  = "agent.content"
	TopicFinished = "agent.finished"
)

var (
	ErrMethodNotFound = errors.New("method not found")
	ErrUnknownStream  = errors.New("unknown stream")
)

// EngineSource hands out pinned engine generations. release must be called
// once the caller no longer touches the engine.
type EngineSource interface {
	Acquire() (eng *app.Engine, release func(), err error)
}

type NotifyFunc func(topic, payload string)

type Service struct {
	engines EngineSource
	notify  NotifyFunc
	logger  *zap.Logger
	version string

	mu      sync.Mutex
	streams map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func New(engines EngineSource, notify NotifyFunc, logger *zap.Logger, version string) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notify == nil {
		notify = func(string, string) {}
	}
	return &Service{
		engines: engines,
		notify:  notify,
		logger:  logger,
		version: version,
		streams: make(map[string]context.CancelFunc),
	}
}

type TurnParams struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type StreamParams struct {
	StreamID string `json:"stream_id"`
}

type HistoryParams struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

type StreamStarted struct {
	StreamID  string `json:"stream_id"`
	SessionID string `json:"session_id"`
}

type statusEvent struct {
	StreamID string `json:"stream_id"`
	State    string `json:"state"`
}

type contentEvent struct {
	StreamID string `json:"stream_id"`
	Delta    string `json:"delta"`
}

type finishedEvent struct {
	StreamID  string `json:"stream_id"`
	Completed bool   `json:"completed"`
	Error     string `json:"error,omitempty"`
}

// Call routes one host method.
func (s *Service) Call(method, paramsJSON string) (any, error) {
	switch method {
	case "system.info":
		return s.SystemInfo(), nil
	case "agent.ask":
		return s.Ask(context.Background(), paramsJSON)
	case "agent.stream":
		return s.StartStream(paramsJSON)
	case "agent.cancel":
		return s.Cancel(paramsJSON)
	case "agent.history":
		return s.History(context.Background(), paramsJSON)
	case "agent.trades":
		return s.Trades(context.Background(), paramsJSON)
	default:
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
}

func (s *Service) SystemInfo() map[string]any {
	info := map[string]any{
		"version": s.version,
		"go":      runtime.Version(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	if eng, release, err := s.engines.Acquire(); err == nil {
		info["engine_version"] = eng.Version
		info["llm_provider"] = eng.Config.LLMProvider
		info["online_tools"] = eng.Config.OnlineTools
		release()
	}
	return info
}

// Ask runs one turn to completion.
func (s *Service) Ask(ctx context.Context, paramsJSON string) (*models.TurnResult, error) {
	p, err := decodeTurn(paramsJSON)
	if err != nil {
		return nil, err
	}
	eng, release, err := s.engine()
	if err != nil {
		return nil, err
	}
	defer release()
	return eng.Agent.ProcessTurn(ctx, p.Query, p.SessionID)
}

// StartStream starts a turn in the background and pushes its increments as
// events. The returned stream ID can be passed to Cancel.
func (s *Service) StartStream(paramsJSON string) (*StreamStarted, error) {
	p, err := decodeTurn(paramsJSON)
	if err != nil {
		return nil, err
	}
	eng, release, err := s.engine()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.streams[id] = cancel
	s.mu.Unlock()

	ch := eng.Agent.Stream(ctx, p.Query, p.SessionID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		defer s.forget(id)

		finished := finishedEvent{StreamID: id}
		for inc := range ch {
			if state, ok := strings.CutPrefix(inc, consts.StatusPrefix); ok {
				state = strings.TrimSpace(state)
				if msg, failed := strings.CutPrefix(state, consts.StateError+":"); failed {
					finished.Error = strings.TrimSpace(msg)
				}
				// a failed turn still ends with "complete", which is not success
				finished.Completed = state == consts.StateComplete && finished.Error == ""
				s.emit(TopicStatus, statusEvent{StreamID: id, State: state})
				continue
			}
			s.emit(TopicContent, contentEvent{StreamID: id, Delta: inc})
		}
		s.emit(TopicFinished, finished)
	}()

	return &StreamStarted{StreamID: id, SessionID: p.SessionID}, nil
}

func (s *Service) Cancel(paramsJSON string) (map[string]string, error) {
	var p StreamParams
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	s.mu.Lock()
	cancel, ok := s.streams[p.StreamID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, p.StreamID)
	}
	cancel()
	return map[string]string{"status": "cancelling", "stream_id": p.StreamID}, nil
}

func (s *Service) History(ctx context.Context, paramsJSON string) ([]models.ChatMessage, error) {
	p, err := decodeHistory(paramsJSON)
	if err != nil {
		return nil, err
	}
	eng, release, err := s.engine()
	if err != nil {
		return nil, err
	}
	defer release()
	msgs, err := eng.Store.RecentMessages(ctx, p.SessionID, p.Limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

func (s *Service) Trades(ctx context.Context, paramsJSON string) ([]models.Trade, error) {
	p, err := decodeHistory(paramsJSON)
	if err != nil {
		return nil, err
	}
	eng, release, err := s.engine()
	if err != nil {
		return nil, err
	}
	defer release()
	trades, err := eng.Store.ListTrades(ctx, p.SessionID)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	return trades, nil
}

// Close cancels every live stream and waits for their goroutines.
func (s *Service) Close() {
	s.mu.Lock()
	for _, cancel := range s.streams {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) engine() (*app.Engine, func(), error) {
	eng, release, err := s.engines.Acquire()
	if err != nil {
		return nil, nil, err
	}
	if eng.Agent == nil {
		release()
		return nil, nil, app.ErrNoEngine
	}
	return eng, release, nil
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.streams[id]; ok {
		cancel()
		delete(s.streams, id)
	}
}

func (s *Service) emit(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encode event", zap.String("topic", topic), zap.Error(err))
		return
	}
	s.notify(topic, string(payload))
}

func decodeTurn(paramsJSON string) (TurnParams, error) {
	var p TurnParams
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
		return p, fmt.Errorf("invalid params: %w", err)
	}
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return p, fmt.Errorf("query is required")
	}
	if strings.TrimSpace(p.SessionID) == "" {
		p.SessionID = "default"
	}
	return p, nil
}

func decodeHistory(paramsJSON string) (HistoryParams, error) {
	var p HistoryParams
	if strings.TrimSpace(paramsJSON) != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
			return p, fmt.Errorf("invalid params: %w", err)
		}
	}
	if strings.TrimSpace(p.SessionID) == "" {
		p.SessionID = "default"
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	return p, nil
}
