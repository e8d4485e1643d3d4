// Package events provides the in-process event bus settlement and escrow
// services publish on after their database transactions commit. Handlers
// run synchronously in subscription order; a panicking or failing handler
// is logged and isolated so it cannot affect other handlers or the caller's
// committed state.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// Handler processes one published event.
type Handler func(ctx context.Context, evt ports.Event) error

// Bus routes events by name to subscribed handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   ports.Logger
}

// NewBus creates an empty bus.
func NewBus(logger ports.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for events with the given name. Subscriptions are
// expected at assembly time; subscribing while publishers run is safe.
func (b *Bus) Subscribe(eventName string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], h)
}

// Publish delivers evt to every handler subscribed to its name and returns
// the errors they produced. Handler panics are recovered and reported as
// errors.
func (b *Bus) Publish(ctx context.Context, evt ports.Event) []error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[evt.Name()]...)
	b.mu.RUnlock()

	var errs []error
	for i, h := range hs {
		if err := b.dispatch(ctx, evt, h, i); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (b *Bus) dispatch(ctx context.Context, evt ports.Event, h Handler, index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			b.logger.Error("event handler panicked",
				ports.String("event", evt.Name()),
				ports.Int("handler_index", index),
				ports.String("panic", fmt.Sprintf("%v", r)))
		}
	}()

	if err := h(ctx, evt); err != nil {
		b.logger.Error("event handler failed",
			ports.String("event", evt.Name()),
			ports.Int("handler_index", index),
			ports.Err(err))
		return err
	}
	return nil
}
