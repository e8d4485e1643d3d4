package ports

import "context"

// Event is anything publishable on the in-process bus. Name is the routing
// key handlers subscribe on, e.g. "payment.verified".
type Event interface {
	Name() string
}

// EventPublisher delivers domain events to subscribed handlers. Services
// publish only after the owning database transaction commits; handler
// failures are the handlers' problem and never unwind ledger state.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) []error
}
