// Package wslog is the workstation's logging layer. The orchestrator has
// two consumers for every log entry: the debug log file on disk, and the
// TUI's debug pane, which must tail new entries live without re-reading
// the file (bubbletea owns stdout, so printing is not an option). Both are
// fed from one log/slog text handler whose writer tees each rendered line
// into the file and onto a pubsub broker; Tail is the subscription side of
// that broker.
//
// Logging is off until InitWithTeaLog runs (the --debug path); before
// that, every call is a no-op, which keeps config loading and other
// pre-init code free of "is logging up yet" checks.
package wslog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaxs-ribs/codewalk/internal/pubsub"
)

// Category names the orchestrator subsystem an entry originates from; it
// becomes the "subsystem" attribute on every record, which is what the
// debug pane filters on.
type Category string

const (
	CatRoute     Category = "route"
	CatConfirm   Category = "confirm"
	CatExecutor  Category = "executor"
	CatEffects   Category = "effects"
	CatLoop      Category = "loop"
	CatBridge    Category = "bridge"
	CatRelay     Category = "relay"
	CatTUI       Category = "tui"
	CatStore     Category = "store"
	CatArtifacts Category = "artifacts"
	CatSession   Category = "session"
	CatConfig    Category = "config"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
	broker *pubsub.Broker[string]
)

// InitWithTeaLog opens the debug log file through tea.LogToFile (which also
// points the stdlib log package at it, so stray log.Printf calls from
// dependencies land in the same file) and turns logging on. The returned
// cleanup closes the tail broker and the file.
func InitWithTeaLog(path, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}

	b := pubsub.NewBroker[string]()
	handler := slog.NewTextHandler(&teeWriter{file: f, broker: b}, &slog.HandlerOptions{Level: slog.LevelDebug})

	mu.Lock()
	logger = slog.New(handler)
	broker = b
	mu.Unlock()

	return func() {
		mu.Lock()
		logger = nil
		broker = nil
		mu.Unlock()
		b.Close()
		_ = f.Close()
	}, nil
}

// Tail subscribes to the stream of rendered log lines. The subscription
// closes when ctx is cancelled; if logging is not initialized, an
// already-closed channel is returned so callers need no nil check.
func Tail(ctx context.Context) <-chan pubsub.Event[string] {
	mu.RLock()
	b := broker
	mu.RUnlock()
	if b == nil {
		ch := make(chan pubsub.Event[string])
		close(ch)
		return ch
	}
	return b.Subscribe(ctx)
}

func Debug(cat Category, msg string, fields ...any) { write(slog.LevelDebug, cat, msg, fields) }
func Info(cat Category, msg string, fields ...any)  { write(slog.LevelInfo, cat, msg, fields) }
func Warn(cat Category, msg string, fields ...any)  { write(slog.LevelWarn, cat, msg, fields) }
func Error(cat Category, msg string, fields ...any) { write(slog.LevelError, cat, msg, fields) }

func write(level slog.Level, cat Category, msg string, fields []any) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return
	}
	args := make([]any, 0, len(fields)+1)
	args = append(args, slog.String("subsystem", string(cat)))
	args = append(args, fields...)
	l.Log(context.Background(), level, msg, args...)
}

// TypeName returns the Go type name of v qualified by its package name
// (for example "event.UserText"), useful for logging
// which event/effect variant was involved without a type switch at the
// call site.
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// teeWriter fans each rendered record out to the log file and the tail
// broker. slog's text handler hands Write exactly one newline-terminated
// line per record, so the line can be republished as-is; a slow or absent
// debug-pane subscriber never stalls the file write because the broker
// drops for full subscribers instead of blocking.
type teeWriter struct {
	mu     sync.Mutex
	file   io.Writer
	broker *pubsub.Broker[string]
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	n, err := w.file.Write(p)
	w.mu.Unlock()
	w.broker.Publish(pubsub.Published, string(bytes.TrimRight(p, "\n")))
	return n, err
}
