package mocks

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MockDB satisfies ports.DBPort for service tests. The transaction callbacks
// run with a nil pgx.Tx; the repositories paired with it in tests ignore the
// executor argument.
type MockDB struct {
	mu sync.Mutex

	// TxErr, when set, is returned without running the callback to simulate
	// a transaction that fails to begin.
	TxErr error

	TxCalls         int
	ReadOnlyTxCalls int
}

// NewMockDB creates a mock database port.
func NewMockDB() *MockDB {
	return &MockDB{}
}

func (m *MockDB) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	m.mu.Lock()
	m.TxCalls++
	err := m.TxErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

func (m *MockDB) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	m.mu.Lock()
	m.ReadOnlyTxCalls++
	err := m.TxErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return fn(ctx, nil)
}

// Reset clears call counters and the injected error.
func (m *MockDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TxErr = nil
	m.TxCalls = 0
	m.ReadOnlyTxCalls = 0
}
