// Package event defines the sum types that flow through the orchestrator's
// state machine: inbound Events, outbound Effects, and the small value types
// (RoutingDecision, RouterContext, ConfirmationTicket) exchanged between
// them. Nothing in this package performs I/O; it is pure data.
package event

import "time"

// ExecutorKind identifies which coding-agent CLI an executor launch targets.
type ExecutorKind string

const (
	ExecutorClaude ExecutorKind = "claude"
	ExecutorAmp    ExecutorKind = "amp"
	ExecutorCodex  ExecutorKind = "codex"
)

// DisplayName returns the user-facing product name for a kind, used in
// spoken status messages.
func (k ExecutorKind) DisplayName() string {
	switch k {
	case ExecutorClaude:
		return "Claude Code"
	case ExecutorAmp:
		return "Amp"
	case ExecutorCodex:
		return "Codex"
	default:
		return string(k)
	}
}

// Outcome describes how an executor run ended.
type Outcome struct {
	Failed bool
	Reason string
}

// LogLine is a single line captured from a running executor.
type LogLine struct {
	Text string
	Kind string // "stdout" or "stderr"
	At   time.Time
}

// RouterContext is rebuilt fresh before every routing call; it carries no
// state of its own between calls.
//
// LastSummary/LastSummaryEndAt/HasLastSummary are carried alongside the
// routing fields so that the state machine's QueryStatus-with-no-active-
// session branch can build a time-aware phrase without ever
// reading session history itself — Transition stays pure and reads only
// what the envelope and this context hand it.
type RouterContext struct {
	HasActiveSession bool
	SessionKind      string
	LastPrompt       string
	RecentMessages   []RecentMessage

	HasLastSummary   bool
	LastSummary      string
	LastSummaryEndAt time.Time
}

// RecentMessage is one entry of RouterContext's bounded conversation window.
type RecentMessage struct {
	Role string
	Text string
}

// RoutingDecision is the sum type returned by the Router port.
type RoutingDecision interface{ isRoutingDecision() }

type LaunchExecutor struct {
	Kind   ExecutorKind
	Prompt string
}

type QueryStatus struct{}

type PassThrough struct{ Text string }

type Respond struct{ Text string }

type CannotParse struct{ Reason string }

func (LaunchExecutor) isRoutingDecision() {}
func (QueryStatus) isRoutingDecision()    {}
func (PassThrough) isRoutingDecision()    {}
func (Respond) isRoutingDecision()        {}
func (CannotParse) isRoutingDecision()    {}

// ConfirmationTicket correlates an outstanding confirmation prompt with its
// eventual response or timeout. At most one is outstanding at any time.
type ConfirmationTicket struct {
	ID        string
	Purpose   string
	Executor  ExecutorKind
	Prompt    string
	CreatedAt time.Time
}

// Event is the sum type consumed by the state machine's transition function.
type Event interface{ isEvent() }

type UserText struct {
	Text   string
	Source string
	ID     string
}

type UserVoiceConfirmation struct{ Text string }

type ConfirmResponse struct {
	ID     string
	Accept bool
}

type RoutingCompleted struct {
	Decision  RoutingDecision
	ForTextID string
}

type ExecutorLaunched struct{ SessionID string }

type ExecutorOutput struct {
	SessionID string
	Line      string
	Kind      string
}

type ExecutorFinished struct {
	SessionID string
	Outcome   Outcome
}

type StatusReady struct {
	SessionID string
	Summary   string
}

type StatusFailed struct {
	SessionID string
	Error     string
}

type ConfirmationTimeout struct{ ID string }

type PeerJoined struct{ Role string }

type PeerLeft struct{ Role string }

type Tick struct{ Now time.Time }

func (UserText) isEvent()              {}
func (UserVoiceConfirmation) isEvent() {}
func (ConfirmResponse) isEvent()       {}
func (RoutingCompleted) isEvent()      {}
func (ExecutorLaunched) isEvent()      {}
func (ExecutorOutput) isEvent()        {}
func (ExecutorFinished) isEvent()      {}
func (StatusReady) isEvent()           {}
func (StatusFailed) isEvent()          {}
func (ConfirmationTimeout) isEvent()   {}
func (PeerJoined) isEvent()            {}
func (PeerLeft) isEvent()              {}
func (Tick) isEvent()                  {}

// OutboundMessage is the minimal shape an Effect needs to hand a message to
// OutboundPort; the wire encoding lives in package protocol.
type OutboundMessage struct {
	Level string // "info" or "warn", for Status messages
	Text  string
	Kind  string // discriminator: "status", "prompt_confirmation", "ack"
	Extra map[string]any
}

// Effect is the sum type produced by the state machine and executed by the
// Effect Runtime.
type Effect interface{ isEffect() }

type RouteText struct {
	Text          string
	Context       RouterContext
	CorrelationID string
	ForTextID     string
}

type StartExecutor struct {
	Kind      ExecutorKind
	Prompt    string
	SessionID string
}

type StopExecutor struct{ SessionID string }

type QueryExecutor struct {
	SessionID     string
	CorrelationID string
	Logs          []LogLine
}

type Summarize struct {
	SessionID     string
	Logs          []LogLine
	CorrelationID string
}

type Emit struct{ Message OutboundMessage }

type StartConfirmationTimer struct {
	ID       string
	Duration time.Duration
}

type SessionSnapshot struct {
	SessionID string
	Status    string
	Kind      ExecutorKind
	LogCount  int
	UpdatedAt time.Time
	// Summary is set only on terminal snapshots (status completed/failed),
	// where the summarizer's prose is available.
	Summary string
}

type PersistSession struct{ Snapshot SessionSnapshot }

func (RouteText) isEffect()              {}
func (StartExecutor) isEffect()          {}
func (StopExecutor) isEffect()           {}
func (QueryExecutor) isEffect()          {}
func (Summarize) isEffect()              {}
func (Emit) isEffect()                   {}
func (StartConfirmationTimer) isEffect() {}
func (PersistSession) isEffect()         {}
