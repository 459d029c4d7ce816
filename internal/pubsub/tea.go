package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// ListenCmd returns a tea.Cmd that waits for exactly one event on ch,
// returning it as a tea.Msg, or returns nil if ctx is cancelled or ch is
// closed first. The caller (internal/tui's debug pane) re-issues it after
// handling each message to keep draining the channel.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			return evt
		}
	}
}
