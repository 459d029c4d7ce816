// Package session implements the orchestrator's Session Context: the active
// session's identity, bounded log ring, and summary cache, plus a bounded
// history of completed sessions retained for status queries.
//
// The entity keeps unexported fields, an explicit constructor paired with
// a Reconstitute constructor for persistence hydration, one getter per
// field, and mutator methods that bump updatedAt.
package session

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jaxs-ribs/codewalk/internal/event"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultLogRingSize is the default bound on retained log lines per session.
const DefaultLogRingSize = 2000

// MaxHistory is the number of completed sessions retained for status
// queries once the active session terminates.
const MaxHistory = 32

// SummaryCacheTTL is how long a QueryExecutor/Summarize result may be served
// from cache before a fresh summary is required.
const SummaryCacheTTL = 10 * time.Second

var idPattern = regexp.MustCompile(`^[0-9]{8}_[0-9]{6}_[A-Za-z0-9]{6}$`)

// ValidID reports whether s has the frozen SessionId shape.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

const idSuffixAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateID produces a SessionId of the form YYYYMMDD_HHMMSS_XXXXXX, where
// the suffix is six random alphanumerics.
func GenerateID(now time.Time) string {
	suffix := make([]byte, 6)
	buf := make([]byte, 6)
	_, _ = rand.Read(buf) // crypto/rand.Read never errors on Linux/Darwin buffers of fixed size
	for i, b := range buf {
		suffix[i] = idSuffixAlphabet[int(b)%len(idSuffixAlphabet)]
	}
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), string(suffix))
}

// Session is the active executor run. It is owned exclusively by the event
// loop while active; on termination it is reduced to a Summary and retained
// in Context's bounded history.
type Session struct {
	id        string
	kind      event.ExecutorKind
	status    Status
	startedAt time.Time
	updatedAt time.Time
	logs      []event.LogLine
	ringSize  int
}

// New creates a new Session in StatusStarting.
func New(id string, kind event.ExecutorKind, ringSize int, now time.Time) *Session {
	if ringSize <= 0 {
		ringSize = DefaultLogRingSize
	}
	return &Session{
		id:        id,
		kind:      kind,
		status:    StatusStarting,
		startedAt: now,
		updatedAt: now,
		ringSize:  ringSize,
	}
}

// Reconstitute hydrates a Session from persisted state.
func Reconstitute(id string, kind event.ExecutorKind, status Status, startedAt, updatedAt time.Time, logs []event.LogLine, ringSize int) *Session {
	if ringSize <= 0 {
		ringSize = DefaultLogRingSize
	}
	return &Session{
		id:        id,
		kind:      kind,
		status:    status,
		startedAt: startedAt,
		updatedAt: updatedAt,
		logs:      logs,
		ringSize:  ringSize,
	}
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Kind() event.ExecutorKind { return s.kind }
func (s *Session) Status() Status         { return s.status }
func (s *Session) StartedAt() time.Time   { return s.startedAt }
func (s *Session) UpdatedAt() time.Time   { return s.updatedAt }
func (s *Session) LogCount() int          { return len(s.logs) }

// Logs returns a copy of the retained log ring, oldest first.
func (s *Session) Logs() []event.LogLine {
	out := make([]event.LogLine, len(s.logs))
	copy(out, s.logs)
	return out
}

// RecentLogs returns up to n of the most recent log lines, oldest first.
func (s *Session) RecentLogs(n int) []event.LogLine {
	if n <= 0 || n > len(s.logs) {
		n = len(s.logs)
	}
	start := len(s.logs) - n
	out := make([]event.LogLine, n)
	copy(out, s.logs[start:])
	return out
}

// MarkRunning transitions the session into StatusRunning.
func (s *Session) MarkRunning(now time.Time) {
	s.status = StatusRunning
	s.updatedAt = now
}

// AppendLog appends a log line to the bounded ring, evicting the oldest
// entry once the ring is full.
func (s *Session) AppendLog(line event.LogLine) {
	s.logs = append(s.logs, line)
	if len(s.logs) > s.ringSize {
		s.logs = s.logs[len(s.logs)-s.ringSize:]
	}
	s.updatedAt = line.At
}

// MarkCompleted transitions the session to StatusCompleted or StatusFailed
// depending on outcome, and returns a Summary suitable for history.
func (s *Session) MarkCompleted(outcome event.Outcome, now time.Time, summaryText string) Summary {
	if outcome.Failed {
		s.status = StatusFailed
	} else {
		s.status = StatusCompleted
	}
	s.updatedAt = now
	return Summary{
		ID:      s.id,
		Kind:    s.kind,
		EndTime: now,
		Summary: summaryText,
		Failed:  outcome.Failed,
	}
}

// Snapshot produces the value handed to SessionStorePort.Save.
func (s *Session) Snapshot() event.SessionSnapshot {
	return event.SessionSnapshot{
		SessionID: s.id,
		Status:    string(s.status),
		Kind:      s.kind,
		LogCount:  len(s.logs),
		UpdatedAt: s.updatedAt,
	}
}

// Summary is a completed session's retained history entry.
type Summary struct {
	ID      string
	Kind    event.ExecutorKind
	EndTime time.Time
	Summary string
	Failed  bool
}

// Context owns the active session (if any), the bounded completed-session
// history, and the summary cache shared by QueryExecutor/Summarize effects.
type Context struct {
	active     *Session
	history    []Summary
	maxHistory int
	cache      *cache.Cache
}

// NewContext creates an empty session context.
func NewContext() *Context {
	return &Context{
		maxHistory: MaxHistory,
		cache:      cache.New(SummaryCacheTTL, SummaryCacheTTL*2),
	}
}

func (c *Context) Active() *Session { return c.active }

func (c *Context) SetActive(s *Session) { c.active = s }

// HasActive reports whether a session is currently owned by the loop.
func (c *Context) HasActive() bool { return c.active != nil }

// Complete retires the active session into history and clears it.
func (c *Context) Complete(outcome event.Outcome, now time.Time, summaryText string) {
	if c.active == nil {
		return
	}
	summary := c.active.MarkCompleted(outcome, now, summaryText)
	c.history = append(c.history, summary)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
	c.active = nil
}

// History returns the retained completed-session summaries, oldest first.
func (c *Context) History() []Summary {
	out := make([]Summary, len(c.history))
	copy(out, c.history)
	return out
}

// LastSummary returns the most recently completed session's summary, if any.
func (c *Context) LastSummary() (Summary, bool) {
	if len(c.history) == 0 {
		return Summary{}, false
	}
	return c.history[len(c.history)-1], true
}

// RecentLogs returns up to n of the active session's most recent log lines,
// oldest first. It returns false if sessionID does not match the active
// session; effects addressed to a non-active session are no-ops.
func (c *Context) RecentLogs(sessionID string, n int) ([]event.LogLine, bool) {
	if c.active == nil || c.active.ID() != sessionID {
		return nil, false
	}
	return c.active.RecentLogs(n), true
}

// CachedSummary returns a cached summary for sessionID if one is younger
// than SummaryCacheTTL.
func (c *Context) CachedSummary(sessionID string) (string, bool) {
	v, ok := c.cache.Get(sessionID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// CacheSummary records a fresh summary for sessionID.
func (c *Context) CacheSummary(sessionID, summary string) {
	c.cache.Set(sessionID, summary, SummaryCacheTTL)
}

// BuildRouterContext rebuilds a RouterContext value from current state; it
// is never retained between calls.
func (c *Context) BuildRouterContext(lastPrompt string, recent []event.RecentMessage) event.RouterContext {
	ctx := event.RouterContext{
		LastPrompt:     lastPrompt,
		RecentMessages: recent,
	}
	if c.active != nil {
		ctx.HasActiveSession = true
		ctx.SessionKind = string(c.active.Kind())
	}
	if last, ok := c.LastSummary(); ok {
		ctx.HasLastSummary = true
		ctx.LastSummary = last.Summary
		ctx.LastSummaryEndAt = last.EndTime
	}
	return ctx
}

// TimeAwarePhrase selects a natural-language preamble based on elapsed time
// since endTime.
func TimeAwarePhrase(now, endTime time.Time) string {
	elapsed := now.Sub(endTime)
	switch {
	case elapsed < time.Minute:
		return "I just finished…"
	case elapsed < 5*time.Minute:
		return "A few minutes ago, I…"
	case elapsed < time.Hour:
		return "Earlier, I…"
	default:
		return "Previously, I…"
	}
}
