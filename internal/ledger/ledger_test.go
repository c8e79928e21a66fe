package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

func TestDebitAndCredit(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	ctx := context.Background()

	if _, err := l.Credit(ctx, "alice", 500, "topup"); err != nil {
		t.Fatalf("Credit() error = %v", err)
	}
	if got := l.Balance("alice"); got != 500 {
		t.Fatalf("Balance() = %d, want 500", got)
	}

	after, err := l.Debit(ctx, "alice", 200, "call-1", 1)
	if err != nil {
		t.Fatalf("Debit() error = %v", err)
	}
	if after != 300 {
		t.Errorf("Debit() after = %d, want 300", after)
	}

	txs := store.Transactions("alice")
	if len(txs) != 2 {
		t.Fatalf("len(Transactions) = %d, want 2", len(txs))
	}
	if txs[1].Kind != TxDebit || txs[1].Amount != 200 || txs[1].BalanceAfter != 300 {
		t.Errorf("debit row = %+v", txs[1])
	}
	if txs[1].CallID != "call-1" || txs[1].MinuteIndex != 1 {
		t.Errorf("debit row call binding = %+v", txs[1])
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	l.SetBalance("alice", 150)

	_, err := l.Debit(context.Background(), "alice", 200, "call-1", 1)
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("Debit() error = %v, want ErrInsufficientFunds", err)
	}
	if got := l.Balance("alice"); got != 150 {
		t.Errorf("Balance() = %d, want 150 (unchanged)", got)
	}
	if got := len(store.Transactions("alice")); got != 0 {
		t.Errorf("rejected debit recorded %d rows, want 0", got)
	}
}

func TestDebitUpToDrains(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	l.SetBalance("alice", 50)

	taken, err := l.DebitUpTo(context.Background(), "alice", 100, "call-1", 2)
	if err != nil {
		t.Fatalf("DebitUpTo() error = %v", err)
	}
	if taken != 50 {
		t.Errorf("DebitUpTo() taken = %d, want 50", taken)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() = %d, want 0", got)
	}

	// Nothing left: no charge and no row.
	taken, err = l.DebitUpTo(context.Background(), "alice", 100, "call-1", 3)
	if err != nil || taken != 0 {
		t.Errorf("DebitUpTo() on empty = (%d, %v), want (0, nil)", taken, err)
	}
	if got := len(store.Transactions("alice")); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}

type failingStore struct {
	MemoryStore
}

func (f *failingStore) Append(ctx context.Context, tx Transaction) error {
	return errors.New("store down")
}

func TestAppendFailureRollsBack(t *testing.T) {
	l := New(&failingStore{})
	l.SetBalance("alice", 500)

	if _, err := l.Debit(context.Background(), "alice", 100, "call-1", 1); err == nil {
		t.Fatal("Debit() error = nil, want store failure")
	}
	if got := l.Balance("alice"); got != 500 {
		t.Errorf("Balance() = %d after failed append, want 500", got)
	}
	if _, err := l.Credit(context.Background(), "alice", 100, "topup"); err == nil {
		t.Fatal("Credit() error = nil, want store failure")
	}
	if got := l.Balance("alice"); got != 500 {
		t.Errorf("Balance() = %d after failed credit, want 500", got)
	}
}

func TestConcurrentDebitsStayNonNegative(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	l.SetBalance("alice", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(context.Background(), "alice", 100, "call-1", 0); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded = %d debits of 100 from 1000, want 10", succeeded)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() = %d, want 0", got)
	}
	if got := len(store.Transactions("alice")); got != 10 {
		t.Errorf("rows = %d, want 10", got)
	}
}

func TestCallDebitsFilter(t *testing.T) {
	store := NewMemoryStore()
	l := New(store)
	l.SetBalance("alice", 1000)
	ctx := context.Background()

	var c1, c2 = domain.CallID("c1"), domain.CallID("c2")
	l.Debit(ctx, "alice", 100, c1, 1)
	l.Debit(ctx, "alice", 100, c2, 1)
	l.Debit(ctx, "alice", 100, c1, 2)

	if got := len(store.CallDebits(c1)); got != 2 {
		t.Errorf("CallDebits(c1) = %d rows, want 2", got)
	}
	if got := len(store.CallDebits(c2)); got != 1 {
		t.Errorf("CallDebits(c2) = %d rows, want 1", got)
	}
}
