package statemachine

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaxs-ribs/codewalk/internal/confirmation"
	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/session"
)

// PersistEveryN is how many ExecutorOutput lines accumulate before a
// PersistSession effect is emitted.
const PersistEveryN = 10

// Envelope wraps an Event with the single moment-in-time the loop observed
// it, so that transition stays pure: it never calls time.Now() itself, it
// only reads env.At.
type Envelope struct {
	Event event.Event
	At    time.Time
}

// Machine is the full pure state threaded through Transition: the current
// Phase plus a monotonic sequence used to derive correlation ids
// deterministically, unique per origin within one process lifetime.
type Machine struct {
	Phase      State
	Seq        int
	Classifier *confirmation.Classifier
}

// NewMachine returns a Machine in its initial Idle phase.
func NewMachine(classifier *confirmation.Classifier) Machine {
	return Machine{Phase: Idle{}, Classifier: classifier}
}

func (m Machine) nextCorrelationID(prefix string) (Machine, string) {
	id := fmt.Sprintf("%s-%d", prefix, m.Seq)
	m.Seq++
	return m, id
}

// Transition is the pure core of the orchestrator. Unknown (state, event)
// pairs return the input state unchanged with no effects or outbound
// messages — they are never panics, only no-ops (logged by the caller).
func Transition(m Machine, env Envelope, rctx event.RouterContext, hasPriorSession bool) (Machine, []event.Effect, []event.OutboundMessage) {
	switch phase := m.Phase.(type) {
	case Idle:
		return transitionIdle(m, env, rctx)
	case Routing:
		return transitionRouting(m, phase, env, rctx, hasPriorSession)
	case RequestingConfirmation:
		return transitionRequestingConfirmation(m, phase, env, rctx, hasPriorSession)
	case Starting:
		return transitionStarting(m, phase, env, rctx)
	case Running:
		return transitionRunning(m, phase, env, rctx, hasPriorSession)
	case Completing:
		return transitionCompleting(m, phase, env, rctx)
	case Querying:
		return transitionQuerying(m, phase, env)
	default:
		return m, nil, nil
	}
}

func transitionIdle(m Machine, env Envelope, rctx event.RouterContext) (Machine, []event.Effect, []event.OutboundMessage) {
	ut, ok := env.Event.(event.UserText)
	if !ok {
		return m, nil, nil
	}
	if strings.TrimSpace(ut.Text) == "" {
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "No audio detected", Kind: "status"}}
	}
	m, corr := m.nextCorrelationID("route")
	m.Phase = Routing{ForTextID: ut.ID, Text: ut.Text, CorrelationID: corr, Resume: Idle{}}
	return m, []event.Effect{
		event.RouteText{Text: ut.Text, Context: rctx, CorrelationID: corr, ForTextID: ut.ID},
	}, nil
}

func transitionRouting(m Machine, phase Routing, env Envelope, rctx event.RouterContext, hasPriorSession bool) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.UserText:
		// A new UserText cancels the outstanding RouteText correlation;
		// the late RoutingCompleted for the old correlation is dropped on
		// arrival because its CorrelationID no longer matches.
		m, corr := m.nextCorrelationID("route")
		m.Phase = Routing{ForTextID: ev.ID, Text: ev.Text, CorrelationID: corr, Resume: phase.Resume}
		return m, []event.Effect{event.RouteText{Text: ev.Text, Context: rctx, CorrelationID: corr, ForTextID: ev.ID}}, nil

	case event.RoutingCompleted:
		if ev.ForTextID != phase.ForTextID {
			return m, nil, nil // stale callback, drop
		}
		sessionID, busy, hasSession := activeSessionID(phase.Resume)
		return applyRoutingDecision(m, phase, ev.Decision, busy, hasSession, sessionID, hasPriorSession, rctx, env.At)

	default:
		return m, nil, nil
	}
}

func applyRoutingDecision(m Machine, phase Routing, decision event.RoutingDecision, busy, hasSession bool, activeSessID string, hasPriorSession bool, rctx event.RouterContext, now time.Time) (Machine, []event.Effect, []event.OutboundMessage) {
	switch d := decision.(type) {
	case event.LaunchExecutor:
		if busy {
			m.Phase = phase.Resume
			return m, nil, []event.OutboundMessage{{Level: "warn", Text: "Still processing", Kind: "status"}}
		}
		ticket := confirmation.NewTicket(d.Kind, d.Prompt, now)
		m.Phase = RequestingConfirmation{Ticket: ticket, Resume: phase.Resume}
		return m, []event.Effect{
			event.StartConfirmationTimer{ID: ticket.ID, Duration: confirmation.DefaultTimeout},
		}, []event.OutboundMessage{{
			Kind: "prompt_confirmation",
			Text: ticket.Prompt,
			Extra: map[string]any{
				"id":       ticket.ID,
				"executor": string(ticket.Executor),
			},
		}}

	case event.QueryStatus:
		if hasSession {
			m, corr := m.nextCorrelationID("query")
			m.Phase = Querying{SessionID: activeSessID, CorrelationID: corr, Resume: phase.Resume}
			return m, []event.Effect{event.QueryExecutor{SessionID: activeSessID, CorrelationID: corr}}, nil
		}
		m.Phase = Idle{}
		if rctx.HasLastSummary {
			phrase := session.TimeAwarePhrase(now, rctx.LastSummaryEndAt)
			return m, nil, []event.OutboundMessage{{Level: "info", Text: phrase + " " + rctx.LastSummary, Kind: "status"}}
		}
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "No recent session.", Kind: "status"}}

	case event.Respond:
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: d.Text, Kind: "status"}}

	case event.PassThrough:
		if running, ok := phase.Resume.(Running); ok {
			running.WriteInFlight = true
			m.Phase = running
			return m, []event.Effect{event.Emit{Message: event.OutboundMessage{Kind: "send_to_executor", Text: d.Text, Extra: map[string]any{"session_id": running.SessionID}}}}, nil
		}
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "Got it.", Kind: "status"}}

	case event.CannotParse:
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "I understand. The network is a bit slow right now.", Kind: "status"}}

	default:
		m.Phase = phase.Resume
		return m, nil, nil
	}
}

func transitionRequestingConfirmation(m Machine, phase RequestingConfirmation, env Envelope, rctx event.RouterContext, hasPriorSession bool) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.ConfirmResponse:
		if ev.ID != phase.Ticket.ID {
			return m, nil, nil // expired/mismatched id is a no-op
		}
		if ev.Accept {
			sessionID := session.GenerateID(env.At)
			m.Phase = Starting{Kind: phase.Ticket.Executor, Prompt: phase.Ticket.Prompt, SessionID: sessionID}
			started := event.OutboundMessage{
				Level: "info",
				Text:  fmt.Sprintf("Starting %s for: %s", phase.Ticket.Executor.DisplayName(), phase.Ticket.Prompt),
				Kind:  "status",
			}
			return m, []event.Effect{event.StartExecutor{Kind: phase.Ticket.Executor, Prompt: phase.Ticket.Prompt, SessionID: sessionID}}, []event.OutboundMessage{started}
		}
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "Cancelled", Kind: "status"}}

	case event.UserText:
		// The wire carries spoken text as user_text frames; while a ticket
		// is outstanding it is classified locally, never routed.
		if strings.TrimSpace(ev.Text) == "" {
			return m, nil, []event.OutboundMessage{{Level: "info", Text: "No audio detected", Kind: "status"}}
		}
		return transitionRequestingConfirmation(m, phase, Envelope{Event: event.UserVoiceConfirmation{Text: ev.Text}, At: env.At}, rctx, hasPriorSession)

	case event.UserVoiceConfirmation:
		verdict := m.Classifier.Classify(ev.Text, hasPriorSession)
		if phase.Reprompted {
			verdict = m.Classifier.ResolveReprompt(ev.Text)
		}
		switch verdict {
		case confirmation.Accept:
			return transitionRequestingConfirmation(m, phase, Envelope{Event: event.ConfirmResponse{ID: phase.Ticket.ID, Accept: true}, At: env.At}, rctx, hasPriorSession)
		case confirmation.Decline:
			return transitionRequestingConfirmation(m, phase, Envelope{Event: event.ConfirmResponse{ID: phase.Ticket.ID, Accept: false}, At: env.At}, rctx, hasPriorSession)
		case confirmation.Ambiguous:
			phase.Reprompted = true
			m.Phase = phase
			return m, nil, []event.OutboundMessage{{
				Level: "info",
				Text:  "Did you want to continue the previous session, start a new one, or cancel?",
				Kind:  "status",
			}}
		default:
			// No token matched: route the utterance normally. Because the
			// resume chain is still RequestingConfirmation, a LaunchExecutor
			// decision reached from here is refused; one outstanding ticket
			// at a time.
			m, corr := m.nextCorrelationID("route")
			m.Phase = Routing{ForTextID: "", Text: ev.Text, CorrelationID: corr, Resume: phase}
			return m, []event.Effect{event.RouteText{Text: ev.Text, Context: rctx, CorrelationID: corr, ForTextID: ""}}, nil
		}

	case event.ConfirmationTimeout:
		if ev.ID != phase.Ticket.ID {
			return m, nil, nil
		}
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "Timed out", Kind: "status"}}

	default:
		return m, nil, nil
	}
}

func transitionStarting(m Machine, phase Starting, env Envelope, rctx event.RouterContext) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.ExecutorLaunched:
		m.Phase = Running{SessionID: ev.SessionID, Kind: phase.Kind, Prompt: phase.Prompt}
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "Session started", Kind: "status"}}

	case event.UserText:
		m, corr := m.nextCorrelationID("route")
		m.Phase = Routing{ForTextID: ev.ID, Text: ev.Text, CorrelationID: corr, Resume: phase}
		return m, []event.Effect{event.RouteText{Text: ev.Text, Context: rctx, CorrelationID: corr, ForTextID: ev.ID}}, nil

	default:
		return m, nil, nil
	}
}

func transitionRunning(m Machine, phase Running, env Envelope, rctx event.RouterContext, hasPriorSession bool) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.ExecutorOutput:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil // discard output for a non-active session
		}
		phase.LogCount++
		phase.WriteInFlight = false
		m.Phase = phase
		var effects []event.Effect
		if phase.LogCount%PersistEveryN == 0 {
			effects = append(effects, event.PersistSession{Snapshot: event.SessionSnapshot{SessionID: phase.SessionID, Status: "running", Kind: phase.Kind, LogCount: phase.LogCount, UpdatedAt: env.At}})
		}
		return m, effects, nil

	case event.ExecutorFinished:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil
		}
		m.Phase = Completing{SessionID: phase.SessionID, Kind: phase.Kind, Outcome: ev.Outcome, Prompt: phase.Prompt, LogCount: phase.LogCount}
		return m, []event.Effect{event.Summarize{SessionID: phase.SessionID, CorrelationID: fmt.Sprintf("summarize-%s", phase.SessionID)}}, nil

	case event.UserText:
		// A write-class action (PassThrough edit) dominates: no new input
		// is accepted until the executor has produced output again.
		if phase.WriteInFlight {
			return m, nil, []event.OutboundMessage{{Level: "warn", Text: "Still processing…", Kind: "status"}}
		}
		m, corr := m.nextCorrelationID("route")
		m.Phase = Routing{ForTextID: ev.ID, Text: ev.Text, CorrelationID: corr, Resume: phase}
		return m, []event.Effect{event.RouteText{Text: ev.Text, Context: rctx, CorrelationID: corr, ForTextID: ev.ID}}, nil

	default:
		return m, nil, nil
	}
}

func transitionCompleting(m Machine, phase Completing, env Envelope, rctx event.RouterContext) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.StatusReady:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil
		}
		m.Phase = Idle{}
		return m, []event.Effect{terminalPersist(phase, ev.Summary, env.At)}, []event.OutboundMessage{{Level: "info", Text: ev.Summary, Kind: "status"}}
	case event.StatusFailed:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil
		}
		m.Phase = Idle{}
		fallback := "I was working on your last request."
		if phase.Prompt != "" {
			fallback = "I was working on " + phase.Prompt
		}
		return m, []event.Effect{terminalPersist(phase, "", env.At)}, []event.OutboundMessage{{Level: "info", Text: fallback, Kind: "status"}}
	case event.UserText:
		m, corr := m.nextCorrelationID("route")
		m.Phase = Routing{ForTextID: ev.ID, Text: ev.Text, CorrelationID: corr, Resume: phase}
		return m, []event.Effect{event.RouteText{Text: ev.Text, Context: rctx, CorrelationID: corr, ForTextID: ev.ID}}, nil
	default:
		return m, nil, nil
	}
}

// terminalPersist builds the final PersistSession effect for a session
// leaving Completing, so the store sees the terminal status and summary in
// addition to the periodic in-flight snapshots.
func terminalPersist(phase Completing, summary string, now time.Time) event.Effect {
	status := "completed"
	if phase.Outcome.Failed {
		status = "failed"
	}
	return event.PersistSession{Snapshot: event.SessionSnapshot{
		SessionID: phase.SessionID,
		Status:    status,
		Kind:      phase.Kind,
		LogCount:  phase.LogCount,
		UpdatedAt: now,
		Summary:   summary,
	}}
}

func transitionQuerying(m Machine, phase Querying, env Envelope) (Machine, []event.Effect, []event.OutboundMessage) {
	switch ev := env.Event.(type) {
	case event.StatusReady:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil
		}
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: ev.Summary, Kind: "status"}}
	case event.StatusFailed:
		if ev.SessionID != phase.SessionID {
			return m, nil, nil
		}
		m.Phase = phase.Resume
		return m, nil, []event.OutboundMessage{{Level: "info", Text: "I couldn't get a status just now.", Kind: "status"}}
	default:
		return m, nil, nil
	}
}
