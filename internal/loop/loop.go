// Package loop implements the Event Loop: the single-threaded cooperative
// scheduler that owns the orchestrator's Machine, serializes events off a
// bounded FIFO, drives the pure statemachine.Transition function, and hands
// the effects it produces to the Effect Runtime. Nothing outside this
// package ever mutates Machine or session.Context directly; the state is
// exclusively owned by the loop.
//
// The loop coordinates effect workers, events, and outbound delivery
// through channels rather than shared locks, and opens an
// internal/tracing span per dispatched event and submitted effect.
package loop

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaxs-ribs/codewalk/internal/confirmation"
	"github.com/jaxs-ribs/codewalk/internal/effects"
	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
	"github.com/jaxs-ribs/codewalk/internal/session"
	"github.com/jaxs-ribs/codewalk/internal/statemachine"
	"github.com/jaxs-ribs/codewalk/internal/tracing"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// QueueCapacity is the bounded FIFO depth for inbound events.
const QueueCapacity = 1024

// RecentMessageWindow bounds RouterContext.RecentMessages.
const RecentMessageWindow = 8

// QueryLogWindow is how many recent log lines are handed to the Summarizer
// for an active-status query.
const QueryLogWindow = 200

// FailureHintThreshold and FailureHintWindow gate the troubleshooting
// hint: once the same error kind fails three times within the window, the
// user-facing status gains a hint naming the credential to check.
const (
	FailureHintThreshold = 3
	FailureHintWindow    = 30 * time.Second
)

// Loop owns the Machine and drives it from a bounded event channel.
type Loop struct {
	machine  statemachine.Machine
	sessions *session.Context
	runtime  *effects.Runtime
	outbound ports.OutboundPort
	tracer   trace.Tracer

	events chan statemachine.Envelope

	lastPrompt     string
	recentMessages []event.RecentMessage
	failures       map[string]failureStreak
}

// failureStreak tracks one error kind's run of consecutive failures.
type failureStreak struct {
	count int
	first time.Time
}

// New builds a Loop. tracer may be the Tracer() of a disabled
// tracing.Provider (NewProvider with Enabled false), in which case spans
// are no-ops.
func New(classifier *confirmation.Classifier, sessions *session.Context, runtime *effects.Runtime, outbound ports.OutboundPort, tracer trace.Tracer) *Loop {
	return &Loop{
		machine:  statemachine.NewMachine(classifier),
		sessions: sessions,
		runtime:  runtime,
		outbound: outbound,
		tracer:   tracer,
		events:   make(chan statemachine.Envelope, QueueCapacity),
		failures: make(map[string]failureStreak),
	}
}

// Submit enqueues ev for processing, stamping it with the current time.
// It never blocks beyond the channel's buffer; a full queue means the
// caller (the Protocol Bridge or a side-channel handler) should itself
// apply back-pressure upstream.
func (l *Loop) Submit(ev event.Event) {
	l.events <- statemachine.Envelope{Event: ev, At: time.Now()}
}

// EventsChan exposes the inbound channel so the Effect Runtime can be
// constructed to report results onto it (effects.New takes a send-only
// view of the same channel).
func (l *Loop) EventsChan() chan<- statemachine.Envelope { return l.events }

// SetRuntime attaches the Effect Runtime once it has been constructed.
// Loop and Runtime are mutually dependent at wiring time (Runtime needs
// EventsChan, Loop needs a Runtime to execute effects against), so callers
// outside this package build a Loop with a nil runtime, construct the
// Runtime from its EventsChan, and then call SetRuntime before Run.
func (l *Loop) SetRuntime(runtime *effects.Runtime) { l.runtime = runtime }

// Run drains the event channel until ctx is cancelled, dispatching each
// envelope through Transition and executing the effects it produces. It
// returns when ctx is done; callers should then call Runtime.Wait to let
// in-flight effects settle (or let them be cancelled by ctx).
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-l.events:
			l.dispatch(ctx, env)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, env statemachine.Envelope) {
	spanCtx, span := l.tracer.Start(ctx, tracing.SpanEventDispatch,
		trace.WithAttributes(attribute.String(tracing.AttrEventType, wslog.TypeName(env.Event))))
	defer span.End()

	l.applySessionSideEffects(env)
	l.trackRouterContext(env)

	rctx := l.sessions.BuildRouterContext(l.lastPrompt, l.recentMessages)
	hasPrior := l.sessions.HasActive() || l.historyExists()

	next, effs, outbound := statemachine.Transition(l.machine, env, rctx, hasPrior)
	if len(effs) == 0 && len(outbound) == 0 && next.Seq == l.machine.Seq && reflect.DeepEqual(next.Phase, l.machine.Phase) {
		wslog.Debug(wslog.CatLoop, "event ignored in current phase", "event", wslog.TypeName(env.Event), "phase", wslog.TypeName(l.machine.Phase))
	}
	l.machine = next

	for _, msg := range outbound {
		l.sendOutbound(spanCtx, msg)
	}
	if hint := l.failureHint(env); hint != "" {
		l.sendOutbound(spanCtx, event.OutboundMessage{Level: "warn", Text: "This keeps failing — " + hint, Kind: "status"})
	}

	for _, eff := range effs {
		l.submitEffect(spanCtx, eff)
	}

	span.SetStatus(codes.Ok, "")
}

// failureHint classifies env as a failure or success of a known error kind
// and returns a "check <KEY>" hint once the same kind has failed
// FailureHintThreshold times within FailureHintWindow. A success of the
// same kind resets its streak.
func (l *Loop) failureHint(env statemachine.Envelope) string {
	switch ev := env.Event.(type) {
	case event.RoutingCompleted:
		if _, bad := ev.Decision.(event.CannotParse); bad {
			return l.bumpFailure("router", "ROUTER_API_KEY", env.At)
		}
		delete(l.failures, "router")
	case event.StatusFailed:
		return l.bumpFailure("summarizer", "SUMMARIZER_API_KEY", env.At)
	case event.StatusReady:
		delete(l.failures, "summarizer")
	case event.ExecutorFinished:
		if ev.Outcome.Failed {
			return l.bumpFailure("executor", "EXECUTOR_CLI_PATH", env.At)
		}
		delete(l.failures, "executor")
	}
	return ""
}

func (l *Loop) bumpFailure(kind, key string, now time.Time) string {
	s := l.failures[kind]
	if s.count == 0 || now.Sub(s.first) > FailureHintWindow {
		s = failureStreak{first: now}
	}
	s.count++
	l.failures[kind] = s
	if s.count >= FailureHintThreshold {
		return "check " + key
	}
	return ""
}

// applySessionSideEffects mutates session.Context in lockstep with the
// transition the same envelope is about to drive through the pure state
// machine. This is the one place outside statemachine that session state
// changes, keeping Transition itself free of I/O and mutation.
func (l *Loop) applySessionSideEffects(env statemachine.Envelope) {
	switch phase := l.machine.Phase.(type) {
	case statemachine.Starting:
		if ev, ok := env.Event.(event.ExecutorLaunched); ok {
			sess := session.New(ev.SessionID, phase.Kind, session.DefaultLogRingSize, env.At)
			sess.MarkRunning(env.At)
			l.sessions.SetActive(sess)
		}

	case statemachine.Running:
		if ev, ok := env.Event.(event.ExecutorOutput); ok && ev.SessionID == phase.SessionID {
			if active := l.sessions.Active(); active != nil {
				active.AppendLog(event.LogLine{Text: ev.Line, Kind: ev.Kind, At: env.At})
			}
		}

	case statemachine.Completing:
		switch ev := env.Event.(type) {
		case event.StatusReady:
			if ev.SessionID == phase.SessionID {
				l.sessions.Complete(phase.Outcome, env.At, ev.Summary)
				l.sessions.CacheSummary(ev.SessionID, ev.Summary)
			}
		case event.StatusFailed:
			if ev.SessionID == phase.SessionID {
				l.sessions.Complete(phase.Outcome, env.At, "I couldn't summarize this run.")
			}
		}

	case statemachine.Querying:
		if ev, ok := env.Event.(event.StatusReady); ok && ev.SessionID == phase.SessionID {
			l.sessions.CacheSummary(ev.SessionID, ev.Summary)
		}
	}
}

// trackRouterContext keeps the rolling conversation window RouterContext is
// rebuilt from. It is deliberately simple: only UserText/Respond-shaped
// outcomes feed it, and the window is bounded.
func (l *Loop) trackRouterContext(env statemachine.Envelope) {
	ut, ok := env.Event.(event.UserText)
	if !ok {
		return
	}
	l.lastPrompt = ut.Text
	l.recentMessages = append(l.recentMessages, event.RecentMessage{Role: "user", Text: ut.Text})
	if len(l.recentMessages) > RecentMessageWindow {
		l.recentMessages = l.recentMessages[len(l.recentMessages)-RecentMessageWindow:]
	}
}

func (l *Loop) historyExists() bool {
	_, ok := l.sessions.LastSummary()
	return ok
}

func (l *Loop) sendOutbound(ctx context.Context, msg event.OutboundMessage) {
	if err := l.outbound.Send(ctx, msg); err != nil {
		wslog.Warn(wslog.CatLoop, "outbound send failed", "err", err)
	}
}

// submitEffect enriches session-scoped effects with logs and serves the
// QueryExecutor summary-cache hit synchronously, before handing
// anything that still needs real work off to the Effect Runtime.
func (l *Loop) submitEffect(ctx context.Context, eff event.Effect) {
	_, span := l.tracer.Start(ctx, tracing.SpanEffectRun,
		trace.WithAttributes(attribute.String(tracing.AttrEffectType, wslog.TypeName(eff))))
	defer span.End()

	switch e := eff.(type) {
	case event.QueryExecutor:
		if cached, ok := l.sessions.CachedSummary(e.SessionID); ok {
			l.Submit(event.StatusReady{SessionID: e.SessionID, Summary: cached})
			return
		}
		logs, _ := l.sessions.RecentLogs(e.SessionID, QueryLogWindow)
		e.Logs = logs
		l.runtime.Execute(ctx, e)

	case event.Summarize:
		logs, _ := l.sessions.RecentLogs(e.SessionID, QueryLogWindow)
		e.Logs = logs
		l.runtime.Execute(ctx, e)

	default:
		l.runtime.Execute(ctx, eff)
	}
}

// ErrShutdownTimeout is returned by callers that, after cancelling Run's
// ctx, impose a deadline on draining Runtime.Wait() (cmd/workstation does).
// The loop has no shutdown method of its own.
var ErrShutdownTimeout = fmt.Errorf("loop: effect runtime did not settle before shutdown deadline")
