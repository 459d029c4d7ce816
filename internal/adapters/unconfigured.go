// Package adapters provides the "not configured" implementations of the
// ports the orchestrator core depends on but does not itself implement:
// an LLM-backed Router, a process-spawning Executor, a Summarizer, and a
// speech-to-text transcriber. These adapters are the seam a deployment
// wires a real backend into; until one is supplied, cmd/workstation runs
// with these so the binary still starts, reports a clear status message
// over the relay, and never panics on a nil port.
package adapters

import (
	"context"
	"fmt"

	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
)

// ErrNotConfigured is returned by every port in this package.
var ErrNotConfigured = fmt.Errorf("adapters: no backend configured")

// UnconfiguredRouter rejects every RouteText request.
type UnconfiguredRouter struct{}

func (UnconfiguredRouter) Route(ctx context.Context, text string, rctx event.RouterContext) (event.RoutingDecision, error) {
	return nil, ErrNotConfigured
}

// UnconfiguredExecutor rejects every launch/send/stop.
type UnconfiguredExecutor struct{}

func (UnconfiguredExecutor) Launch(ctx context.Context, kind event.ExecutorKind, prompt string) (string, ports.ExecutorOutputStream, error) {
	return "", nil, ErrNotConfigured
}

func (UnconfiguredExecutor) Stop(ctx context.Context, sessionID string) error {
	return ErrNotConfigured
}

func (UnconfiguredExecutor) Send(ctx context.Context, sessionID, text string) error {
	return ErrNotConfigured
}

// UnconfiguredSummarizer rejects every summarize request.
type UnconfiguredSummarizer struct{}

func (UnconfiguredSummarizer) Summarize(ctx context.Context, logs []event.LogLine, purpose string) (string, error) {
	return "", ErrNotConfigured
}

// UnconfiguredSpeechToText rejects every transcription request.
type UnconfiguredSpeechToText struct{}

func (UnconfiguredSpeechToText) Transcribe(ctx context.Context, mime string, data []byte) (string, error) {
	return "", ErrNotConfigured
}
