// Package ledger holds the prepaid balances and the durable trace of every
// balance mutation. Amounts are integer cents; no floating point anywhere.
package ledger

import (
	"context"
	"time"

	"github.com/avelov/tollcall/internal/domain"
)

// TxKind tags a transaction row.
type TxKind string

const (
	TxDebit  TxKind = "debit"
	TxCredit TxKind = "credit"
)

// Transaction is one balance mutation. For call debits CallID and
// MinuteIndex identify the exact billed minute, which is what makes
// double-charging detectable after the fact.
type Transaction struct {
	User         domain.UserID `json:"user"`
	Kind         TxKind        `json:"kind"`
	Amount       int64         `json:"amount"`
	BalanceAfter int64         `json:"balance_after"`
	CallID       domain.CallID `json:"call_id,omitempty"`
	MinuteIndex  int           `json:"minute_index,omitempty"`
	Source       string        `json:"source,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Store is the persistence boundary. The ledger guarantees that a balance
// mutation and its Append happen atomically: if Append fails the mutation is
// not applied.
type Store interface {
	Append(ctx context.Context, tx Transaction) error
	AppendCall(ctx context.Context, rec domain.CallRecord) error
}
