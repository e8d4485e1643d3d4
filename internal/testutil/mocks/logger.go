// Package mocks provides shared mock implementations for service and
// adapter tests.
package mocks

import (
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// MockLogger captures log calls for assertion. Safe for concurrent use so
// concurrent-call tests can run under the race detector.
type MockLogger struct {
	mu         sync.Mutex
	infoCalls  []LogCall
	errorCalls []LogCall
	warnCalls  []LogCall
	debugCalls []LogCall
}

// LogCall represents a captured log call
type LogCall struct {
	Message string
	Fields  []ports.Field
}

// NewMockLogger creates a new mock logger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Info logs an info message
func (m *MockLogger) Info(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCalls = append(m.infoCalls, LogCall{Message: msg, Fields: fields})
}

// Error logs an error message
func (m *MockLogger) Error(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCalls = append(m.errorCalls, LogCall{Message: msg, Fields: fields})
}

// Warn logs a warning message
func (m *MockLogger) Warn(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnCalls = append(m.warnCalls, LogCall{Message: msg, Fields: fields})
}

// Debug logs a debug message
func (m *MockLogger) Debug(msg string, fields ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugCalls = append(m.debugCalls, LogCall{Message: msg, Fields: fields})
}

// Reset clears all captured calls
func (m *MockLogger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoCalls = nil
	m.errorCalls = nil
	m.warnCalls = nil
	m.debugCalls = nil
}

// InfoCalls returns a copy of the captured info-level calls.
func (m *MockLogger) InfoCalls() []LogCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogCall(nil), m.infoCalls...)
}

// ErrorCalls returns a copy of the captured error-level calls.
func (m *MockLogger) ErrorCalls() []LogCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogCall(nil), m.errorCalls...)
}

// WarnCalls returns a copy of the captured warn-level calls.
func (m *MockLogger) WarnCalls() []LogCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogCall(nil), m.warnCalls...)
}

// HasMessage reports whether any call at any level logged msg.
func (m *MockLogger) HasMessage(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, calls := range [][]LogCall{m.infoCalls, m.errorCalls, m.warnCalls, m.debugCalls} {
		for _, c := range calls {
			if c.Message == msg {
				return true
			}
		}
	}
	return false
}
