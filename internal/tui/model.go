// Package tui is a thin bubbletea front end for the workstation. It is
// presentation-only: it subscribes to the stream of outbound messages the
// event loop already produces and renders them, but makes no decisions of
// its own about routing, confirmation, or session state. All of that lives
// in the state machine and loop packages; this package only ever reads.
//
// The model holds a bounded line buffer and a viewport, rendered through
// lipgloss styles, as a single status/confirmation/log pane — there is
// exactly one session active at a time, so no tabs.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jaxs-ribs/codewalk/internal/event"
	"github.com/jaxs-ribs/codewalk/internal/pubsub"
)

// MaxLines bounds how many rendered lines the transcript keeps, mirroring
// the bounded-buffer discipline the session and bridge packages use.
const MaxLines = 500

// MaxDebugLines bounds the retained log tail shown by the debug pane.
const MaxDebugLines = 200

// line is one rendered row of the transcript pane.
type line struct {
	text  string
	level string // "info", "warn", "confirm"
	at    time.Time
}

// Model is the bubbletea model for the workstation's terminal UI.
type Model struct {
	width, height int
	lines         []line
	pending       *pendingConfirmation
	viewport      viewport.Model
	ready         bool
	md            *glamour.TermRenderer

	debugLines []string
	showDebug  bool

	ctx   context.Context
	ch    <-chan event.OutboundMessage
	logCh <-chan pubsub.Event[string]

	// Clock is the time source for testing. If nil, uses time.Now().
	Clock func() time.Time
}

// pendingConfirmation mirrors the data carried by a prompt_confirmation
// OutboundMessage, for display only; accepting/declining it is handled by
// the voice/text input path, not by this UI.
type pendingConfirmation struct {
	id       string
	prompt   string
	executor string
}

// OutboundMsg wraps an event.OutboundMessage as a tea.Msg so Update can
// react to messages pulled off the loop's OutboundPort.
type OutboundMsg struct{ Message event.OutboundMessage }

// New creates a Model that drains ch (the outbound message stream) and
// logCh (the live log tail from wslog.Tail, shown in the toggleable debug
// pane) for as long as ctx is alive. Either channel may be nil.
func New(ctx context.Context, ch <-chan event.OutboundMessage, logCh <-chan pubsub.Event[string]) Model {
	return Model{ctx: ctx, ch: ch, logCh: logCh}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.ch != nil {
		cmds = append(cmds, Subscribe(m.ctx, m.ch))
	}
	if m.logCh != nil {
		cmds = append(cmds, pubsub.ListenCmd(m.ctx, m.logCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.contentHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.contentHeight()
		}
		if r, err := newMarkdownRenderer(msg.Width - 2); err == nil {
			m.md = r
		}
		m.viewport.SetContent(m.renderLines())
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab":
			m.showDebug = !m.showDebug
			if m.ready {
				m.viewport.Height = m.contentHeight()
				m.viewport.GotoBottom()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case pubsub.Event[string]:
		m.debugLines = append(m.debugLines, msg.Payload)
		if len(m.debugLines) > MaxDebugLines {
			m.debugLines = m.debugLines[len(m.debugLines)-MaxDebugLines:]
		}
		var next tea.Cmd
		if m.logCh != nil {
			next = pubsub.ListenCmd(m.ctx, m.logCh)
		}
		return m, next

	case OutboundMsg:
		m = m.applyOutbound(msg.Message)
		if m.ready {
			m.viewport.SetContent(m.renderLines())
			m.viewport.GotoBottom()
		}
		var next tea.Cmd
		if m.ch != nil {
			next = Subscribe(m.ctx, m.ch)
		}
		return m, next
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// applyOutbound folds a single outbound message into the transcript. It
// never inspects Extra beyond what is needed to render a confirmation
// prompt; it issues no decisions back to the loop.
func (m Model) applyOutbound(msg event.OutboundMessage) Model {
	switch msg.Kind {
	case "prompt_confirmation":
		id, _ := msg.Extra["id"].(string)
		executor, _ := msg.Extra["executor"].(string)
		m.pending = &pendingConfirmation{id: id, prompt: msg.Text, executor: executor}
		m = m.appendLine(msg.Text, "confirm")
	case "ack":
		// Acks are not shown in the transcript; they only confirm delivery.
	default:
		level := msg.Level
		if level == "" {
			level = "info"
		}
		m = m.appendLine(msg.Text, level)
		if m.pending != nil {
			m.pending = nil
		}
	}
	return m
}

func (m Model) appendLine(text, level string) Model {
	if text == "" {
		return m
	}
	m.lines = append(m.lines, line{text: m.renderMarkdown(text), level: level, at: m.now()})
	if len(m.lines) > MaxLines {
		m.lines = m.lines[len(m.lines)-MaxLines:]
	}
	return m
}

func (m Model) contentHeight() int {
	h := m.height - headerHeight - footerHeight
	if m.showDebug {
		h -= debugPaneLines + 1
	}
	if h < 1 {
		h = 1
	}
	return h
}

// Subscribe returns a tea.Cmd that reads one message off ch and turns it
// into an OutboundMsg. Model.Update re-issues this command after every
// receipt so the program keeps draining the channel for as long as it
// runs.
func Subscribe(ctx context.Context, ch <-chan event.OutboundMessage) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			return OutboundMsg{Message: msg}
		case <-ctx.Done():
			return nil
		}
	}
}
