package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// MockPublisher records published events for assertion.
type MockPublisher struct {
	mu     sync.Mutex
	events []ports.Event

	// Errs is returned from every Publish call when set.
	Errs []error
}

// NewMockPublisher creates an empty publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, evt ports.Event) []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.Errs
}

// Events returns a copy of everything published so far.
func (m *MockPublisher) Events() []ports.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.Event(nil), m.events...)
}

// EventNames returns the Name() of each published event in order.
func (m *MockPublisher) EventNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.events))
	for _, e := range m.events {
		names = append(names, e.Name())
	}
	return names
}

// Reset clears captured events.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
