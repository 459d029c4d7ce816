// Package statemachine implements the orchestrator's pure transition
// function: transition(state, event) -> (state', effects, outbound). No
// goroutine, I/O, or time.Now() call ever happens in this package — time is
// threaded in via Envelope.At, set once by the event loop when an event is
// enqueued, and correlation ids are derived from a monotonic sequence
// number carried in Machine. Confirmation ticket ids (uuid) and new
// session ids (six random characters after the timestamp) are drawn at
// random, so those two values differ between otherwise identical calls.
package statemachine

import (
	"github.com/jaxs-ribs/codewalk/internal/event"
)

// State is the orchestrator's hierarchical phase type.
type State interface{ isState() }

type Idle struct{}

// Routing tracks the outstanding RouteText correlation and what state to
// return to if the decision turns out to not need a new state (Respond,
// CannotParse, or a refused/PassThrough case). When routing was entered
// directly from Idle, Resume is Idle{}.
type Routing struct {
	ForTextID     string
	Text          string
	CorrelationID string
	Resume        State
}

// RequestingConfirmation holds the single outstanding ticket. Reprompted is
// set after an ambiguous voice reply triggered the three-option re-prompt;
// from then on "new" and "continue" resolve the ticket instead of
// re-prompting again.
type RequestingConfirmation struct {
	Ticket     event.ConfirmationTicket
	Resume     State
	Reprompted bool
}

type Starting struct {
	Kind      event.ExecutorKind
	Prompt    string
	SessionID string
}

// Running carries the executor kind and prompt forward so Completing can
// phrase the summarizer-failure fallback and build the terminal session
// snapshot. WriteInFlight is set while a PassThrough edit is being
// delivered to the executor; new input is refused until the executor
// produces output again.
type Running struct {
	SessionID     string
	Kind          event.ExecutorKind
	LogCount      int
	Prompt        string
	WriteInFlight bool
}

type Completing struct {
	SessionID string
	Kind      event.ExecutorKind
	Outcome   event.Outcome
	Prompt    string
	LogCount  int
}

type Querying struct {
	SessionID     string
	CorrelationID string
	Resume        State
}

func (Idle) isState()                   {}
func (Routing) isState()                {}
func (RequestingConfirmation) isState() {}
func (Starting) isState()               {}
func (Running) isState()                {}
func (Completing) isState()             {}
func (Querying) isState()               {}

// activeSessionID reports the session id a state is responsible for, if
// any, whether an executor is considered "busy" (refuses new launches), and
// whether that id names a real, already-launched session (hasSession).
//
// busy and hasSession diverge exactly for RequestingConfirmation: a single
// outstanding ticket refuses a second LaunchExecutor even before any
// session has actually launched, but QueryStatus needs to know whether
// there is a real session to query rather than just "something is busy".
func activeSessionID(s State) (id string, busy bool, hasSession bool) {
	switch st := s.(type) {
	case Starting:
		return st.SessionID, true, true
	case Running:
		return st.SessionID, true, true
	case Completing:
		return st.SessionID, true, true
	case Querying:
		id, _, has := activeSessionID(st.Resume)
		return id, true, has
	case RequestingConfirmation:
		id, _, has := activeSessionID(st.Resume)
		return id, true, has
	case Routing:
		return activeSessionID(st.Resume)
	default:
		return "", false, false
	}
}
