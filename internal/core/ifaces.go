package core

import (
	"context"
	"encoding/json"

	"github.com/avelov/tollcall/internal/domain"
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts a per-user messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// EventKind is the closed set of pushes the core addresses to a user's
// signaling channel.
type EventKind string

const (
	EventInvited     EventKind = "call_invited"
	EventAccepted    EventKind = "call_accepted"
	EventRejected    EventKind = "call_rejected"
	EventEnded       EventKind = "call_ended"
	EventNegotiation EventKind = "negotiation"
)

// Event is the outbound push to one user. Negotiation payloads are carried
// verbatim; the core never inspects them.
type Event struct {
	Kind    EventKind        `json:"event"`
	CallID  domain.CallID    `json:"call_id"`
	From    domain.UserID    `json:"from,omitempty"`
	Reason  domain.EndReason `json:"reason,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Gateway is the outbound edge of the core: it pushes events to whatever
// transport currently serves the user. Push to an offline user returns
// ErrPeerUnreachable.
type Gateway interface {
	Push(user domain.UserID, ev Event) error
	Online(user domain.UserID) bool
}

// Ledger is the authoritative prepaid balance, in integer cents.
// Debits for a single user are serialized by the implementation.
type Ledger interface {
	// Debit withdraws amount if the balance covers it, returning the new
	// balance. ErrInsufficientFunds leaves the balance unchanged.
	Debit(ctx context.Context, user domain.UserID, amount int64, callID domain.CallID, minuteIndex int) (int64, error)

	// DebitUpTo withdraws min(amount, balance) and returns what was actually
	// taken. Used only for the final settle so the ledger never goes negative.
	DebitUpTo(ctx context.Context, user domain.UserID, amount int64, callID domain.CallID, minuteIndex int) (int64, error)

	Credit(ctx context.Context, user domain.UserID, amount int64, source string) (int64, error)
	Balance(user domain.UserID) int64
}
