// Package notify delivers scene notifications from a queue to the pairing
// engine and settles each message according to the engine's outcome.
package notify

import (
	"context"
)

// Message is one delivered notification.
type Message struct {
	ID string
	// Body is the raw notification payload.
	Body []byte
	// Attempt counts deliveries, starting at 1.
	Attempt int

	// receipt identifies the delivery to the source that produced it.
	receipt string
}

// Source is a redeliverable notification queue.
type Source interface {
	// Receive blocks until messages are available, the source's poll
	// interval elapses, or ctx is done.
	Receive(ctx context.Context) ([]Message, error)
	// Ack removes a settled message.
	Ack(ctx context.Context, msg Message) error
	// Retry makes the message available again later.
	Retry(ctx context.Context, msg Message, reason string) error
	// DeadLetter moves the message out of the main queue.
	DeadLetter(ctx context.Context, msg Message, reason string) error
}
