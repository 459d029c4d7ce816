// Package effects implements the Effect Runtime: it owns the async tasks
// that carry out each Effect the state machine produces and communicates
// results back to the event loop exclusively via events. It never
// touches the Session Context directly — the loop enriches effects
// that need session data (recent logs) before handing them to Execute, and
// caches summaries itself when the resulting event comes back.
//
// Each accepted effect runs on its own panic-recovering goroutine (the
// number in flight is not capped), and results are fed back through a
// channel rather than shared memory.
package effects

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/ports"
	"github.com/jaxs-ribs/codewalk/internal/statemachine"
	"github.com/jaxs-ribs/codewalk/internal/wslog"
)

// Timeouts for the router and summarizer calls and the loop's bounded
// back-pressure wait.
const (
	RouterTimeout     = 15 * time.Second
	SummarizerTimeout = 10 * time.Second
	BackPressureWait  = 5 * time.Second
)

// Runtime executes Effects and reports results back to the event loop over
// Events. Events must be buffered (the loop allocates capacity 1024); Execute never
// blocks the caller beyond BackPressureWait.
type Runtime struct {
	Router     ports.RouterPort
	Executor   ports.ExecutorPort
	Summarizer ports.SummarizerPort
	Outbound   ports.OutboundPort
	Store      ports.SessionStorePort

	events       chan<- statemachine.Envelope
	backpressure time.Duration
	wg           sync.WaitGroup
}

// New builds a Runtime that reports results onto events.
func New(router ports.RouterPort, executor ports.ExecutorPort, summarizer ports.SummarizerPort, outbound ports.OutboundPort, store ports.SessionStorePort, events chan<- statemachine.Envelope) *Runtime {
	return &Runtime{
		Router:       router,
		Executor:     executor,
		Summarizer:   summarizer,
		Outbound:     outbound,
		Store:        store,
		events:       events,
		backpressure: BackPressureWait,
	}
}

// Execute runs eff on its own goroutine. Per effect, at most one terminal
// event is ever pushed; a cancelled context produces none.
func (r *Runtime) Execute(ctx context.Context, eff event.Effect) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				wslog.Error(wslog.CatEffects, "effect panic recovered",
					"panic", rec, "stack", string(debug.Stack()))
			}
		}()
		r.run(ctx, eff)
	}()
}

// Wait blocks until all in-flight effects have returned. Used on shutdown.
func (r *Runtime) Wait() { r.wg.Wait() }

func (r *Runtime) run(ctx context.Context, eff event.Effect) {
	switch e := eff.(type) {
	case event.RouteText:
		r.routeText(ctx, e)
	case event.StartExecutor:
		r.startExecutor(ctx, e)
	case event.StopExecutor:
		if err := r.Executor.Stop(ctx, e.SessionID); err != nil {
			wslog.Warn(wslog.CatEffects, "stop executor failed", "session_id", e.SessionID, "err", err)
		}
	case event.QueryExecutor:
		r.summarize(ctx, e.SessionID, e.Logs, e.CorrelationID, ports.SummarizePurposeActiveStatus)
	case event.Summarize:
		r.summarize(ctx, e.SessionID, e.Logs, e.CorrelationID, ports.SummarizePurposeCompletion)
	case event.Emit:
		r.emit(ctx, e)
	case event.PersistSession:
		if err := r.Store.Save(ctx, e.Snapshot); err != nil {
			wslog.Warn(wslog.CatEffects, "persist session failed", "session_id", e.Snapshot.SessionID, "err", err)
		}
	case event.StartConfirmationTimer:
		r.startConfirmationTimer(ctx, e)
	}
}

func (r *Runtime) routeText(ctx context.Context, e event.RouteText) {
	cctx, cancel := context.WithTimeout(ctx, RouterTimeout)
	defer cancel()

	decision, err := r.Router.Route(cctx, e.Text, e.Context)
	if err != nil {
		decision = event.CannotParse{Reason: err.Error()}
	}
	r.push(ctx, event.RoutingCompleted{Decision: decision, ForTextID: e.ForTextID})
}

func (r *Runtime) startExecutor(ctx context.Context, e event.StartExecutor) {
	sessionID, stream, err := r.Executor.Launch(ctx, e.Kind, e.Prompt)
	if err != nil {
		r.push(ctx, event.ExecutorFinished{SessionID: e.SessionID, Outcome: event.Outcome{Failed: true, Reason: err.Error()}})
		return
	}
	if sessionID == "" {
		sessionID = e.SessionID
	}
	r.push(ctx, event.ExecutorLaunched{SessionID: sessionID})
	r.streamOutput(ctx, sessionID, stream)
}

func (r *Runtime) streamOutput(ctx context.Context, sessionID string, stream ports.ExecutorOutputStream) {
	for {
		line, ok, err := stream.Next(ctx)
		if !ok {
			outcome := event.Outcome{}
			if err != nil {
				outcome = event.Outcome{Failed: true, Reason: err.Error()}
			}
			r.push(ctx, event.ExecutorFinished{SessionID: sessionID, Outcome: outcome})
			return
		}
		r.push(ctx, event.ExecutorOutput{SessionID: sessionID, Line: line.Text, Kind: line.Kind})
	}
}

// summarize implements the shared QueryExecutor/Summarize rule: the cache
// check that produces a synchronous StatusReady lives in the loop, before
// the effect ever reaches here — by the time summarize runs, a fresh
// summary is genuinely needed.
func (r *Runtime) summarize(ctx context.Context, sessionID string, logs []event.LogLine, correlationID, purpose string) {
	cctx, cancel := context.WithTimeout(ctx, SummarizerTimeout)
	defer cancel()

	summary, err := r.Summarizer.Summarize(cctx, logs, purpose)
	if err != nil {
		r.push(ctx, event.StatusFailed{SessionID: sessionID, Error: err.Error()})
		return
	}
	r.push(ctx, event.StatusReady{SessionID: sessionID, Summary: summary})
}

func (r *Runtime) emit(ctx context.Context, e event.Emit) {
	if e.Message.Kind == "send_to_executor" {
		sessionID, _ := e.Message.Extra["session_id"].(string)
		if err := r.Executor.Send(ctx, sessionID, e.Message.Text); err != nil {
			wslog.Warn(wslog.CatEffects, "send to executor failed", "session_id", sessionID, "err", err)
		}
		return
	}
	if err := r.Outbound.Send(ctx, e.Message); err != nil {
		wslog.Warn(wslog.CatEffects, "outbound send failed", "err", err)
	}
}

func (r *Runtime) startConfirmationTimer(ctx context.Context, e event.StartConfirmationTimer) {
	select {
	case <-time.After(e.Duration):
		r.push(ctx, event.ConfirmationTimeout{ID: e.ID})
	case <-ctx.Done():
	}
}

// push delivers ev to the event loop with the bounded back-pressure wait.
// If the loop's channel stays full past the wait, ev is dropped and a
// terminal failure event appropriate to its kind is synthesized and
// delivered instead, so no phase is left waiting on a result that silently
// vanished. A cancelled context produces no event at all.
func (r *Runtime) push(ctx context.Context, ev event.Event) {
	if r.deliver(ctx, ev) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	wslog.Warn(wslog.CatEffects, "dropped event under back-pressure", "event", wslog.TypeName(ev))
	fail := failureEventFor(ev)
	if fail == nil {
		return
	}
	if !r.deliver(ctx, fail) && ctx.Err() == nil {
		wslog.Error(wslog.CatEffects, "dropped terminal failure event under back-pressure", "event", wslog.TypeName(fail))
	}
}

// deliver attempts a single bounded send. It reports true on success or
// context cancellation (no retry wanted), false on a back-pressure timeout.
func (r *Runtime) deliver(ctx context.Context, ev event.Event) bool {
	env := statemachine.Envelope{Event: ev, At: time.Now()}
	select {
	case r.events <- env:
		return true
	case <-ctx.Done():
		return true
	case <-time.After(r.backpressure):
		return false
	}
}

// failureEventFor maps a dropped event to the terminal failure the state
// machine needs to make progress without it. Non-terminal events (executor
// output lines) map to nil: losing one is lossy but never wedges a phase.
func failureEventFor(ev event.Event) event.Event {
	switch e := ev.(type) {
	case event.RoutingCompleted:
		return event.RoutingCompleted{Decision: event.CannotParse{Reason: "event queue full"}, ForTextID: e.ForTextID}
	case event.ExecutorLaunched:
		return event.ExecutorFinished{SessionID: e.SessionID, Outcome: event.Outcome{Failed: true, Reason: "event queue full"}}
	case event.ExecutorFinished:
		return event.ExecutorFinished{SessionID: e.SessionID, Outcome: event.Outcome{Failed: true, Reason: "event queue full"}}
	case event.StatusReady:
		return event.StatusFailed{SessionID: e.SessionID, Error: "event queue full"}
	case event.StatusFailed:
		return e
	case event.ConfirmationTimeout:
		return e
	default:
		return nil
	}
}
