// Package ports declares the orchestrator's trait-like interfaces to every
// external collaborator: Router, Executor, Summarizer, Outbound, and
// SessionStore. Concrete adapters (a real LLM client, a real executor
// process, a real transport) live outside this package; internal/mock
// provides test doubles.
package ports

import (
	"context"

	"github.com/jaxs-ribs/codewalk/internal/event"
)

// RouterPort turns free text into a RoutingDecision. It must be stateless
// from the core's perspective and must honor ctx's deadline; the Effect
// Runtime treats a context deadline exceeded or any error as router failure.
type RouterPort interface {
	Route(ctx context.Context, text string, rctx event.RouterContext) (event.RoutingDecision, error)
}

// ExecutorOutputStream is a lazy, finite sequence of executor output lines.
// Once Next returns ok=false the port guarantees no further lines will
// arrive for this stream.
type ExecutorOutputStream interface {
	Next(ctx context.Context) (line event.LogLine, ok bool, err error)
}

// ExecutorPort launches, drives, and terminates executor processes.
type ExecutorPort interface {
	Launch(ctx context.Context, kind event.ExecutorKind, prompt string) (sessionID string, stream ExecutorOutputStream, err error)
	Stop(ctx context.Context, sessionID string) error
	Send(ctx context.Context, sessionID, text string) error
}

// SummarizerPort turns logs into prose. Purposes: "active_status" for a
// running session, "completion" for a finished one.
type SummarizerPort interface {
	Summarize(ctx context.Context, logs []event.LogLine, purpose string) (string, error)
}

const (
	SummarizePurposeActiveStatus = "active_status"
	SummarizePurposeCompletion   = "completion"
)

// OutboundPort delivers a protocol message to connected peers. Send is
// one-way and must never block more than a bounded time; callers (the
// event loop) are the single writer, preserving wire ordering.
type OutboundPort interface {
	Send(ctx context.Context, message event.OutboundMessage) error
}

// SpeechToTextPort transcribes a single audio payload. It is a mobile-only
// side channel (stt_request/stt_result) that bypasses the state
// machine entirely; the Protocol Bridge calls it directly.
type SpeechToTextPort interface {
	Transcribe(ctx context.Context, mime string, data []byte) (text string, err error)
}

// SessionStorePort persists session snapshots. Writes must be atomic
// (temp-file + rename) with rotating backups of at most N=10 per artifact.
type SessionStorePort interface {
	Save(ctx context.Context, snapshot event.SessionSnapshot) error
	Load(ctx context.Context, sessionID string) (event.SessionSnapshot, error)
	ListRecent(ctx context.Context, n int) ([]event.SessionSnapshot, error)
}
