// Package pubsub is a small generic publish/subscribe primitive. In this
// repo it backs exactly one thing: internal/wslog's live log tailing, so
// the TUI's debug pane (and any other future subscriber) can drain newly
// logged lines as a channel instead of polling the log file.
package pubsub

import (
	"context"
	"time"
)

// EventType tags a published Event. A log-line broker only ever appends, so
// there is one value; the type stays distinct from string in case a future
// subscriber (the outbound-message fanout, say) needs to distinguish kinds
// on the same broker.
type EventType string

// Published is the only EventType this repo's brokers emit today.
const Published EventType = "published"

// Event is one broadcast message with a typed payload and the time it was
// published.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber is satisfied by anything a listener can subscribe to.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher is satisfied by anything a writer can publish through.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
