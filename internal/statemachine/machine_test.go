package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaxs-ribs/codewalk/internal/confirmation"
	"github.com/jaxs-ribs/codewalk/internal/event"
)

func newMachine() Machine {
	return NewMachine(confirmation.NewClassifier(confirmation.DefaultTokens()))
}

func at(seconds int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, seconds, 0, time.UTC)
}

// TestVoiceLaunchHappyPath covers the end-to-end launch flow: a user
// utterance routes to LaunchExecutor, the spoken "yes" accepts the ticket
// without going through the Router again, and the executor starting moves
// the machine into Running.
func TestVoiceLaunchHappyPath(t *testing.T) {
	m := newMachine()

	m, effects, _ := Transition(m, Envelope{Event: event.UserText{Text: "build a snake game", ID: "t1"}, At: at(0)}, event.RouterContext{}, false)
	require.Len(t, effects, 1)
	route, ok := effects[0].(event.RouteText)
	require.True(t, ok)
	corr := route.CorrelationID

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.LaunchExecutor{Kind: event.ExecutorClaude, Prompt: "build a snake game"},
		ForTextID: "t1",
	}, At: at(1)}, event.RouterContext{}, false)
	require.Len(t, effects, 1)
	timer, ok := effects[0].(event.StartConfirmationTimer)
	require.True(t, ok)
	require.Len(t, outbound, 1)
	assert.Equal(t, "prompt_confirmation", outbound[0].Kind)

	ticket, ok := m.Phase.(RequestingConfirmation)
	require.True(t, ok)
	assert.Equal(t, timer.ID, ticket.Ticket.ID)
	_ = corr

	m, effects, outbound = Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "yes"}, At: at(2)}, event.RouterContext{}, false)
	require.Len(t, effects, 1)
	start, ok := effects[0].(event.StartExecutor)
	require.True(t, ok)
	assert.Equal(t, event.ExecutorClaude, start.Kind)
	assert.NotEmpty(t, start.SessionID)
	require.Len(t, outbound, 1)
	assert.Equal(t, "Starting Claude Code for: build a snake game", outbound[0].Text)
	starting, ok := m.Phase.(Starting)
	require.True(t, ok)
	assert.Equal(t, start.SessionID, starting.SessionID)

	m, _, outbound = Transition(m, Envelope{Event: event.ExecutorLaunched{SessionID: start.SessionID}, At: at(3)}, event.RouterContext{}, false)
	running, ok := m.Phase.(Running)
	require.True(t, ok)
	assert.Equal(t, start.SessionID, running.SessionID)
	require.Len(t, outbound, 1)
}

// TestAmbiguousWithPriorSessionReprompts: when a prior session exists,
// "continue" classifies as Ambiguous and the machine stays in
// RequestingConfirmation instead of accepting.
func TestAmbiguousWithPriorSessionReprompts(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "refactor the parser", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "continue"}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "continue")
	_, stillWaiting := m.Phase.(RequestingConfirmation)
	assert.True(t, stillWaiting)
}

// TestStatusQueryWhileRunning covers querying status of an active session.
func TestStatusQueryWhileRunning(t *testing.T) {
	m := newMachine()
	m.Phase = Running{SessionID: "s1"}

	m, effects, _ := Transition(m, Envelope{Event: event.UserText{Text: "how's it going", ID: "t1"}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	route := effects[0].(event.RouteText)

	m, effects, _ = Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.QueryStatus{},
		ForTextID: "t1",
	}, At: at(1)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	query, ok := effects[0].(event.QueryExecutor)
	require.True(t, ok)
	assert.Equal(t, "s1", query.SessionID)
	_, ok = m.Phase.(Querying)
	require.True(t, ok)
	_ = route

	m, _, outbound := Transition(m, Envelope{Event: event.StatusReady{SessionID: "s1", Summary: "still working"}, At: at(2)}, event.RouterContext{}, true)
	require.Len(t, outbound, 1)
	assert.Equal(t, "still working", outbound[0].Text)
	_, back := m.Phase.(Running)
	assert.True(t, back)
}

// TestRouterFailureFallback: a CannotParse decision returns to Resume with a
// conversational fallback, never crashing the machine.
func TestRouterFailureFallback(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t1", Text: "asdkjh", CorrelationID: "route-0", Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.CannotParse{Reason: "unintelligible"},
		ForTextID: "t1",
	}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestConfirmationTimeout returns the machine to Resume and drops a stale
// ConfirmResponse for a ticket that has already timed out.
func TestConfirmationTimeout(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorAmp, "run the tests", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.ConfirmationTimeout{ID: ticket.ID}, At: at(61)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)

	// A ConfirmResponse arriving after the timeout for the same id is a
	// no-op because the machine already left RequestingConfirmation.
	m, effects, outbound = Transition(m, Envelope{Event: event.ConfirmResponse{ID: ticket.ID, Accept: true}, At: at(62)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	assert.Empty(t, outbound)
}

// TestVoiceDuringRequestingConfirmationNoMatchRoutesNormallyButRefusesLaunch
// covers the write-locked-phase scenario: an utterance that matches neither
// the accept nor decline token set while a ticket is outstanding is routed
// normally, but any resulting LaunchExecutor decision is still refused.
func TestVoiceDuringRequestingConfirmationNoMatchRoutesNormallyButRefusesLaunch(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "build a CLI", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, _ := Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "what's the weather"}, At: at(1)}, event.RouterContext{}, false)
	require.Len(t, effects, 1)
	route, ok := effects[0].(event.RouteText)
	require.True(t, ok)
	nested, ok := m.Phase.(Routing)
	require.True(t, ok)
	assert.Equal(t, route.CorrelationID, nested.CorrelationID)

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.LaunchExecutor{Kind: event.ExecutorCodex, Prompt: "do something else"},
		ForTextID: "",
	}, At: at(2)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "Still processing")
	_, stillWaiting := m.Phase.(RequestingConfirmation)
	assert.True(t, stillWaiting)
}

// TestLaunchRefusedWhileRunning: a LaunchExecutor decision reached while a
// session is already Running is refused and control returns to Running.
func TestLaunchRefusedWhileRunning(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t2", Text: "build another app", CorrelationID: "route-1", Resume: Running{SessionID: "s1"}}

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.LaunchExecutor{Kind: event.ExecutorClaude, Prompt: "build another app"},
		ForTextID: "t2",
	}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	running, ok := m.Phase.(Running)
	require.True(t, ok)
	assert.Equal(t, "s1", running.SessionID)
}

// TestStaleRoutingCompletedDropped: a RoutingCompleted whose
// ForTextID doesn't match the current Routing phase is a silent no-op.
func TestStaleRoutingCompletedDropped(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t2", Text: "second", CorrelationID: "route-1", Resume: Idle{}}

	before := m.Phase
	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.Respond{Text: "stale reply"},
		ForTextID: "t1",
	}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	assert.Empty(t, outbound)
	assert.Equal(t, before, m.Phase)
}

// TestExecutorOutputForWrongSessionDiscarded: output addressed to a
// non-active session never mutates state.
func TestExecutorOutputForWrongSessionDiscarded(t *testing.T) {
	m := newMachine()
	m.Phase = Running{SessionID: "s1", LogCount: 3}

	m, effects, outbound := Transition(m, Envelope{Event: event.ExecutorOutput{SessionID: "wrong", Line: "noise", Kind: "stdout"}, At: at(0)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	assert.Empty(t, outbound)
	running := m.Phase.(Running)
	assert.Equal(t, 3, running.LogCount)
}

// TestPersistEveryTenLines covers the batched-persist behavior.
func TestPersistEveryTenLines(t *testing.T) {
	m := newMachine()
	m.Phase = Running{SessionID: "s1", LogCount: 8}

	m, effects, _ := Transition(m, Envelope{Event: event.ExecutorOutput{SessionID: "s1", Line: "a", Kind: "stdout"}, At: at(0)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	running := m.Phase.(Running)
	assert.Equal(t, 9, running.LogCount)

	m, effects, _ = Transition(m, Envelope{Event: event.ExecutorOutput{SessionID: "s1", Line: "b", Kind: "stdout"}, At: at(1)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	persist, ok := effects[0].(event.PersistSession)
	require.True(t, ok)
	assert.Equal(t, 10, persist.Snapshot.LogCount)
}

// TestEmptyTranscriptReportsNoAudioDetected: an empty (or whitespace-only)
// transcript never enters Routing, it just reports "No audio detected"
// and stays Idle.
func TestEmptyTranscriptReportsNoAudioDetected(t *testing.T) {
	m := newMachine()
	m.Phase = Idle{}

	m, effects, outbound := Transition(m, Envelope{Event: event.UserText{Text: "   ", ID: "t1"}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Equal(t, "No audio detected", outbound[0].Text)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestUnknownEventIsNoop: an event unrelated to the current phase never
// panics and leaves the state unchanged.
func TestUnknownEventIsNoop(t *testing.T) {
	m := newMachine()
	m.Phase = Idle{}

	before := m.Phase
	m, effects, outbound := Transition(m, Envelope{Event: event.PeerJoined{Role: "mobile"}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	assert.Empty(t, outbound)
	assert.Equal(t, before, m.Phase)
}

// TestDeclineReturnsToResume covers the decline branch of ConfirmResponse.
func TestDeclineReturnsToResume(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "build a CLI", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.ConfirmResponse{ID: ticket.ID, Accept: false}, At: at(1)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Equal(t, "Cancelled", outbound[0].Text)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestPassThroughWhileRunningSendsToExecutor covers a PassThrough
// decision reaching an active executor rather than producing a status reply.
func TestPassThroughWhileRunningSendsToExecutor(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t1", Text: "also add tests", CorrelationID: "route-0", Resume: Running{SessionID: "s1"}}

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.PassThrough{Text: "also add tests"},
		ForTextID: "t1",
	}, At: at(0)}, event.RouterContext{}, true)
	assert.Empty(t, outbound)
	require.Len(t, effects, 1)
	emit, ok := effects[0].(event.Emit)
	require.True(t, ok)
	assert.Equal(t, "send_to_executor", emit.Message.Kind)
	assert.Equal(t, "s1", emit.Message.Extra["session_id"])
	running, ok := m.Phase.(Running)
	require.True(t, ok)
	assert.Equal(t, "s1", running.SessionID)
}

// TestCorrelationIDsAreUnique: repeated routing within one machine
// lifetime never reuses a correlation id.
func TestCorrelationIDsAreUnique(t *testing.T) {
	m := newMachine()
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		var effects []event.Effect
		m, effects, _ = Transition(m, Envelope{Event: event.UserText{Text: "hi", ID: "t"}, At: at(i)}, event.RouterContext{}, false)
		route := effects[0].(event.RouteText)
		assert.False(t, seen[route.CorrelationID])
		seen[route.CorrelationID] = true
		m.Phase = Idle{}
	}
}

// TestExecutorFinishedFailureSummaryWording covers the Completing→Idle path
// when a status summarize call fails.
func TestExecutorFinishedFailureSummaryWording(t *testing.T) {
	m := newMachine()
	m.Phase = Running{SessionID: "s1", LogCount: 4, Prompt: "fix the flaky test"}

	m, effects, _ := Transition(m, Envelope{Event: event.ExecutorFinished{SessionID: "s1", Outcome: event.Outcome{Failed: true, Reason: "a panic"}}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	_, ok := effects[0].(event.Summarize)
	require.True(t, ok)
	completing := m.Phase.(Completing)
	assert.True(t, completing.Outcome.Failed)

	m, _, outbound := Transition(m, Envelope{Event: event.StatusFailed{SessionID: "s1", Error: "summarizer timeout"}, At: at(1)}, event.RouterContext{}, true)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "I was working on fix the flaky test")
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestCompletingPersistsTerminalSnapshot: leaving Completing emits one
// final PersistSession carrying the terminal status and the summary, so
// the store's last word on a session is never a stale in-flight snapshot.
func TestCompletingPersistsTerminalSnapshot(t *testing.T) {
	m := newMachine()
	m.Phase = Completing{SessionID: "s1", Kind: event.ExecutorClaude, Outcome: event.Outcome{}, Prompt: "build a CLI", LogCount: 42}

	m, effects, outbound := Transition(m, Envelope{Event: event.StatusReady{SessionID: "s1", Summary: "built it"}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, outbound, 1)
	require.Len(t, effects, 1)
	persist, ok := effects[0].(event.PersistSession)
	require.True(t, ok)
	assert.Equal(t, "completed", persist.Snapshot.Status)
	assert.Equal(t, event.ExecutorClaude, persist.Snapshot.Kind)
	assert.Equal(t, 42, persist.Snapshot.LogCount)
	assert.Equal(t, "built it", persist.Snapshot.Summary)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)

	m.Phase = Completing{SessionID: "s1", Outcome: event.Outcome{Failed: true, Reason: "crash"}, LogCount: 7}
	m, effects, _ = Transition(m, Envelope{Event: event.StatusFailed{SessionID: "s1", Error: "timeout"}, At: at(1)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	persist = effects[0].(event.PersistSession)
	assert.Equal(t, "failed", persist.Snapshot.Status)
	assert.Empty(t, persist.Snapshot.Summary)
}

// TestQueryStatusWithNoActiveSessionUsesTimeAwareSummary: the last
// completed session's summary, carried on RouterContext by the loop, is
// woven into the time-aware preamble rather than a flat placeholder
// string.
func TestQueryStatusWithNoActiveSessionUsesTimeAwareSummary(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t1", Text: "what happened", CorrelationID: "route-0", Resume: Idle{}}

	rctx := event.RouterContext{
		HasLastSummary:   true,
		LastSummary:      "fixed the failing build",
		LastSummaryEndAt: at(0),
	}
	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.QueryStatus{},
		ForTextID: "t1",
	}, At: at(20)}, rctx, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "I just finished")
	assert.Contains(t, outbound[0].Text, "fixed the failing build")
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestQueryStatusWithNoHistoryAtAll covers the same branch with nothing in
// RouterContext.LastSummary at all (never-run-anything case).
func TestQueryStatusWithNoHistoryAtAll(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t1", Text: "what happened", CorrelationID: "route-0", Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.QueryStatus{},
		ForTextID: "t1",
	}, At: at(0)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Equal(t, "No recent session.", outbound[0].Text)
}

// TestQueryStatusDuringOutstandingConfirmationHasNoRealSession covers the
// bug where activeSessionID's "busy" flag (forced true by an outstanding
// RequestingConfirmation ticket) was mistaken for "has an active
// session" in the QueryStatus branch: a launch ticket outstanding on top of
// Idle must still fall into the no-active-session branch, not query a
// session id that was never actually started.
func TestQueryStatusDuringOutstandingConfirmationHasNoRealSession(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "build a CLI", at(0))
	resume := RequestingConfirmation{Ticket: ticket, Resume: Idle{}}
	m.Phase = Routing{ForTextID: "t1", Text: "what's happening", CorrelationID: "route-0", Resume: resume}

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.QueryStatus{},
		ForTextID: "t1",
	}, At: at(1)}, event.RouterContext{}, false)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	_, querying := m.Phase.(Querying)
	assert.False(t, querying, "must not enter Querying with no real session id")
	_, idle := m.Phase.(Idle)
	assert.True(t, idle, "QueryStatus with no active session always goes to Idle")
}

// TestUserTextDuringStartingRoutesAndCanResume covers the Starting half of
// "Any + UserText while busy with an active executor: route normally, but
// LaunchExecutor decisions ... are refused" — a prior bug silently dropped
// UserText arriving in Starting instead of entering Routing.
func TestUserTextDuringStartingRoutesAndCanResume(t *testing.T) {
	m := newMachine()
	m.Phase = Starting{Kind: event.ExecutorClaude, Prompt: "build a CLI", SessionID: "s1"}

	m, effects, _ := Transition(m, Envelope{Event: event.UserText{Text: "how's it going", ID: "t1"}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	_, ok := effects[0].(event.RouteText)
	require.True(t, ok)
	nested, ok := m.Phase.(Routing)
	require.True(t, ok)
	starting, ok := nested.Resume.(Starting)
	require.True(t, ok)
	assert.Equal(t, "s1", starting.SessionID)

	// A LaunchExecutor decision reached from here is refused (busy).
	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.LaunchExecutor{Kind: event.ExecutorCodex, Prompt: "something else"},
		ForTextID: "t1",
	}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "Still processing")
	back, ok := m.Phase.(Starting)
	require.True(t, ok)
	assert.Equal(t, "s1", back.SessionID)
}

// TestAmbiguousYesWithPriorSessionResolvesViaReprompt: with a prior
// completed session, "yes" is ambiguous (continue
// it, or start fresh?), the machine re-prompts with three options, and the
// follow-up "new" resolves the same ticket as accepted.
func TestAmbiguousYesWithPriorSessionResolvesViaReprompt(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "refactor the parser", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, outbound := Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "yes"}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "continue the previous session")
	waiting, ok := m.Phase.(RequestingConfirmation)
	require.True(t, ok)
	assert.True(t, waiting.Reprompted)

	m, effects, outbound = Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "new"}, At: at(2)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	start, ok := effects[0].(event.StartExecutor)
	require.True(t, ok)
	assert.Equal(t, "refactor the parser", start.Prompt)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "Starting")
	_, starting := m.Phase.(Starting)
	assert.True(t, starting)
}

// TestUserTextDuringRequestingConfirmationClassifiedLocally: spoken text
// arrives over the wire as user_text, so while a ticket is outstanding a
// UserText must behave exactly like a UserVoiceConfirmation — classified
// locally, never handed to the Router.
func TestUserTextDuringRequestingConfirmationClassifiedLocally(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "build a CLI", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}}

	m, effects, _ := Transition(m, Envelope{Event: event.UserText{Text: "yes", ID: "t1"}, At: at(1)}, event.RouterContext{}, false)
	require.Len(t, effects, 1)
	_, ok := effects[0].(event.StartExecutor)
	assert.True(t, ok, "a spoken accept must start the executor, not route")
}

// TestRepromptDeclineCancels: "no" after the three-option re-prompt still
// cancels the ticket.
func TestRepromptDeclineCancels(t *testing.T) {
	m := newMachine()
	ticket := confirmation.NewTicket(event.ExecutorClaude, "refactor the parser", at(0))
	m.Phase = RequestingConfirmation{Ticket: ticket, Resume: Idle{}, Reprompted: true}

	m, effects, outbound := Transition(m, Envelope{Event: event.UserVoiceConfirmation{Text: "no"}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Equal(t, "Cancelled", outbound[0].Text)
	_, idle := m.Phase.(Idle)
	assert.True(t, idle)
}

// TestUserTextBlockedWhileWriteInFlight: while a PassThrough edit is being
// delivered, new UserText is refused outright; the block lifts as soon as
// the executor produces output again.
func TestUserTextBlockedWhileWriteInFlight(t *testing.T) {
	m := newMachine()
	m.Phase = Routing{ForTextID: "t1", Text: "also add tests", CorrelationID: "route-0", Resume: Running{SessionID: "s1"}}

	m, effects, _ := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.PassThrough{Text: "also add tests"},
		ForTextID: "t1",
	}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	running := m.Phase.(Running)
	assert.True(t, running.WriteInFlight)

	m, effects, outbound := Transition(m, Envelope{Event: event.UserText{Text: "and docs too", ID: "t2"}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Equal(t, "warn", outbound[0].Level)
	assert.Contains(t, outbound[0].Text, "Still processing")

	m, _, _ = Transition(m, Envelope{Event: event.ExecutorOutput{SessionID: "s1", Line: "editing...", Kind: "stdout"}, At: at(2)}, event.RouterContext{}, true)
	running = m.Phase.(Running)
	assert.False(t, running.WriteInFlight)

	m, effects, _ = Transition(m, Envelope{Event: event.UserText{Text: "how's it going", ID: "t3"}, At: at(3)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	_, ok := effects[0].(event.RouteText)
	assert.True(t, ok)
}

// TestUserTextDuringCompletingRoutesAndCanResume covers the Completing half
// of the same "Any + UserText while busy" rule.
func TestUserTextDuringCompletingRoutesAndCanResume(t *testing.T) {
	m := newMachine()
	m.Phase = Completing{SessionID: "s1", Outcome: event.Outcome{}}

	m, effects, _ := Transition(m, Envelope{Event: event.UserText{Text: "are you done", ID: "t1"}, At: at(0)}, event.RouterContext{}, true)
	require.Len(t, effects, 1)
	_, ok := effects[0].(event.RouteText)
	require.True(t, ok)
	nested, ok := m.Phase.(Routing)
	require.True(t, ok)
	completing, ok := nested.Resume.(Completing)
	require.True(t, ok)
	assert.Equal(t, "s1", completing.SessionID)

	m, effects, outbound := Transition(m, Envelope{Event: event.RoutingCompleted{
		Decision:  event.LaunchExecutor{Kind: event.ExecutorCodex, Prompt: "something else"},
		ForTextID: "t1",
	}, At: at(1)}, event.RouterContext{}, true)
	assert.Empty(t, effects)
	require.Len(t, outbound, 1)
	assert.Contains(t, outbound[0].Text, "Still processing")
	back, ok := m.Phase.(Completing)
	require.True(t, ok)
	assert.Equal(t, "s1", back.SessionID)
}
