package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

// Ledger implements core.Ledger. One mutex per account serializes debits and
// credits for that user; different users never contend. The balance mutation
// and the Store append happen under the account lock, so a failed append
// leaves the balance untouched and a successful one is always recorded.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[domain.UserID]*account
	store    Store
}

type account struct {
	mu      sync.Mutex
	balance int64
}

func New(store Store) *Ledger {
	return &Ledger{
		accounts: make(map[domain.UserID]*account),
		store:    store,
	}
}

func (l *Ledger) account(user domain.UserID) *account {
	l.mu.RLock()
	a, ok := l.accounts[user]
	l.mu.RUnlock()
	if ok {
		return a
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[user]; ok {
		return a
	}
	a = &account{}
	l.accounts[user] = a
	return a
}

// SetBalance seeds an account without writing a transaction. Fixtures only.
func (l *Ledger) SetBalance(user domain.UserID, amount int64) {
	a := l.account(user)
	a.mu.Lock()
	a.balance = amount
	a.mu.Unlock()
}

func (l *Ledger) Balance(user domain.UserID) int64 {
	a := l.account(user)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

func (l *Ledger) Debit(ctx context.Context, user domain.UserID, amount int64, callID domain.CallID, minuteIndex int) (int64, error) {
	a := l.account(user)
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balance < amount {
		return a.balance, core.ErrInsufficientFunds
	}
	after := a.balance - amount
	if err := l.store.Append(ctx, Transaction{
		User:         user,
		Kind:         TxDebit,
		Amount:       amount,
		BalanceAfter: after,
		CallID:       callID,
		MinuteIndex:  minuteIndex,
		CreatedAt:    time.Now(),
	}); err != nil {
		return a.balance, fmt.Errorf("append debit: %w", err)
	}
	a.balance = after
	return a.balance, nil
}

func (l *Ledger) DebitUpTo(ctx context.Context, user domain.UserID, amount int64, callID domain.CallID, minuteIndex int) (int64, error) {
	a := l.account(user)
	a.mu.Lock()
	defer a.mu.Unlock()

	take := amount
	if a.balance < take {
		take = a.balance
	}
	if take == 0 {
		return 0, nil
	}
	after := a.balance - take
	if err := l.store.Append(ctx, Transaction{
		User:         user,
		Kind:         TxDebit,
		Amount:       take,
		BalanceAfter: after,
		CallID:       callID,
		MinuteIndex:  minuteIndex,
		CreatedAt:    time.Now(),
	}); err != nil {
		return 0, fmt.Errorf("append debit: %w", err)
	}
	a.balance = after
	if take < amount {
		log.Warn().Str("module", "ledger").Str("user", string(user)).
			Int64("short", amount-take).Msg("final settle drained balance")
	}
	return take, nil
}

func (l *Ledger) Credit(ctx context.Context, user domain.UserID, amount int64, source string) (int64, error) {
	a := l.account(user)
	a.mu.Lock()
	defer a.mu.Unlock()

	after := a.balance + amount
	if err := l.store.Append(ctx, Transaction{
		User:         user,
		Kind:         TxCredit,
		Amount:       amount,
		BalanceAfter: after,
		Source:       source,
		CreatedAt:    time.Now(),
	}); err != nil {
		return a.balance, fmt.Errorf("append credit: %w", err)
	}
	a.balance = after
	return a.balance, nil
}

// RecordCall appends the durable record of a finished call.
func (l *Ledger) RecordCall(ctx context.Context, rec domain.CallRecord) error {
	return l.store.AppendCall(ctx, rec)
}
