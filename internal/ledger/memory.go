package ledger

import (
	"context"
	"sync"

	"github.com/avelov/tollcall/internal/domain"
)

// MemoryStore keeps the transaction log and call records in process memory.
// It satisfies Store for single-node deployments and tests; a SQL-backed
// store plugs in behind the same interface.
type MemoryStore struct {
	mu    sync.RWMutex
	txs   []Transaction
	calls []domain.CallRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, tx Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
	return nil
}

func (m *MemoryStore) AppendCall(ctx context.Context, rec domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rec)
	return nil
}

// Transactions returns the rows recorded for one user, oldest first.
func (m *MemoryStore) Transactions(user domain.UserID) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if tx.User == user {
			out = append(out, tx)
		}
	}
	return out
}

// CallDebits returns the debit rows recorded against one call, oldest first.
func (m *MemoryStore) CallDebits(callID domain.CallID) []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, 0, 4)
	for _, tx := range m.txs {
		if tx.Kind == TxDebit && tx.CallID == callID {
			out = append(out, tx)
		}
	}
	return out
}

// Calls returns all call records, oldest first.
func (m *MemoryStore) Calls() []domain.CallRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}
