// Package mock provides test doubles for the orchestrator's ports.
// Router.Route, Executor.Launch, Executor.Send and Summarizer.Summarize
// delegate to an overridable func field when set and fall back to a
// reasonable default otherwise; Outbound, SessionStore and Executor.Stop
// have no func field and only record or store in memory.
package mock

import (
	"context"
	"sync"

	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
)

// Router is a mock ports.RouterPort.
type Router struct {
	RouteFunc func(ctx context.Context, text string, rctx event.RouterContext) (event.RoutingDecision, error)

	mu    sync.Mutex
	calls []string
}

func (r *Router) Route(ctx context.Context, text string, rctx event.RouterContext) (event.RoutingDecision, error) {
	r.mu.Lock()
	r.calls = append(r.calls, text)
	r.mu.Unlock()
	if r.RouteFunc != nil {
		return r.RouteFunc(ctx, text, rctx)
	}
	return event.Respond{Text: "ok"}, nil
}

func (r *Router) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// OutputStream is a mock ports.ExecutorOutputStream fed from a fixed slice
// of lines followed by a terminal ok=false.
type OutputStream struct {
	Lines []event.LogLine
	Err   error

	mu  sync.Mutex
	pos int
}

func (s *OutputStream) Next(ctx context.Context) (event.LogLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.Lines) {
		return event.LogLine{}, false, s.Err
	}
	line := s.Lines[s.pos]
	s.pos++
	return line, true, nil
}

// Executor is a mock ports.ExecutorPort.
type Executor struct {
	LaunchFunc func(ctx context.Context, kind event.ExecutorKind, prompt string) (string, *OutputStream, error)
	SendFunc   func(ctx context.Context, sessionID, text string) error

	mu      sync.Mutex
	sent    []string
	stopped []string
}

func (e *Executor) Launch(ctx context.Context, kind event.ExecutorKind, prompt string) (string, ports.ExecutorOutputStream, error) {
	if e.LaunchFunc != nil {
		id, stream, err := e.LaunchFunc(ctx, kind, prompt)
		return id, stream, err
	}
	return "s1", &OutputStream{}, nil
}

func (e *Executor) Stop(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	e.stopped = append(e.stopped, sessionID)
	e.mu.Unlock()
	return nil
}

func (e *Executor) Send(ctx context.Context, sessionID, text string) error {
	e.mu.Lock()
	e.sent = append(e.sent, text)
	e.mu.Unlock()
	if e.SendFunc != nil {
		return e.SendFunc(ctx, sessionID, text)
	}
	return nil
}

func (e *Executor) Sent() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.sent))
	copy(out, e.sent)
	return out
}

// Summarizer is a mock ports.SummarizerPort.
type Summarizer struct {
	SummarizeFunc func(ctx context.Context, logs []event.LogLine, purpose string) (string, error)
}

func (s *Summarizer) Summarize(ctx context.Context, logs []event.LogLine, purpose string) (string, error) {
	if s.SummarizeFunc != nil {
		return s.SummarizeFunc(ctx, logs, purpose)
	}
	return "summary", nil
}

// Outbound is a mock ports.OutboundPort that records every message sent.
type Outbound struct {
	mu       sync.Mutex
	messages []event.OutboundMessage
}

func (o *Outbound) Send(ctx context.Context, message event.OutboundMessage) error {
	o.mu.Lock()
	o.messages = append(o.messages, message)
	o.mu.Unlock()
	return nil
}

func (o *Outbound) Messages() []event.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]event.OutboundMessage, len(o.messages))
	copy(out, o.messages)
	return out
}

// SessionStore is a mock ports.SessionStorePort backed by an in-memory map.
type SessionStore struct {
	mu   sync.Mutex
	data map[string]event.SessionSnapshot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{data: make(map[string]event.SessionSnapshot)}
}

func (s *SessionStore) Save(ctx context.Context, snapshot event.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snapshot.SessionID] = snapshot
	return nil
}

func (s *SessionStore) Load(ctx context.Context, sessionID string) (event.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[sessionID], nil
}

func (s *SessionStore) ListRecent(ctx context.Context, n int) ([]event.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.SessionSnapshot, 0, len(s.data))
	for _, v := range s.data {
		out = append(out, v)
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
