package channel

import "context"

// Handler consumes one raw message from a subject.
type Handler func(ctx context.Context, data []byte)

// Subscription is a bounded-scope registration on a subject. Callers own
// the lifetime and must Unsubscribe when the consuming scope ends.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the bidirectional channel between actors and the ledger: actors
// publish commands and subscribe to their own room subject, the ledger does
// the reverse.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error)
}
