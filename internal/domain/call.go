package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

// CallState is the lifecycle position of a call. Transitions are monotonic:
// a state is never revisited and terminal states are absorbing.
type CallState string

const (
	StatePending   CallState = "pending"
	StateConnected CallState = "connected"
	StateEnded     CallState = "ended"
	StateRejected  CallState = "rejected"
	StateCancelled CallState = "cancelled"
	StateMissed    CallState = "missed"
	StateTimedOut  CallState = "timed_out"
)

func (s CallState) Terminal() bool {
	switch s {
	case StateEnded, StateRejected, StateCancelled, StateMissed, StateTimedOut:
		return true
	}
	return false
}

// EndReason is what both participants are told when their call reaches a
// terminal state.
type EndReason string

const (
	ReasonHangup             EndReason = "hangup"
	ReasonRejected           EndReason = "rejected"
	ReasonCancelled          EndReason = "cancelled"
	ReasonMissed             EndReason = "missed"
	ReasonTimedOut           EndReason = "timed_out"
	ReasonInsufficientFunds  EndReason = "insufficient_funds"
	ReasonPeerUnreachable    EndReason = "peer_unreachable"
	ReasonBillingUnavailable EndReason = "billing_unavailable"
)

// Call is the immutable identity of one call attempt. Mutable state
// (CallState, billed minutes) lives behind the core session, not here.
type Call struct {
	ID     CallID
	Caller UserID
	Callee UserID
}

// Other returns the peer of u within the call, and false when u is not a
// participant at all.
func (c Call) Other(u UserID) (UserID, bool) {
	switch u {
	case c.Caller:
		return c.Callee, true
	case c.Callee:
		return c.Caller, true
	}
	return "", false
}

// CallRecord is the durable trace of a finished call, appended to the
// transaction store on every terminal transition.
type CallRecord struct {
	CallID   CallID
	Caller   UserID
	Callee   UserID
	Duration time.Duration
	Status   CallRecordStatus
	EndedAt  time.Time
}

type CallRecordStatus string

const (
	RecordSuccessful CallRecordStatus = "successful"
	RecordMissed     CallRecordStatus = "missed"
	RecordDeclined   CallRecordStatus = "declined"
	RecordCancelled  CallRecordStatus = "cancelled"
)

// RecordStatusFor maps a terminal state onto the record vocabulary kept by
// the store (anything that got connected counts as successful).
func RecordStatusFor(s CallState) CallRecordStatus {
	switch s {
	case StateEnded:
		return RecordSuccessful
	case StateRejected:
		return RecordDeclined
	case StateCancelled:
		return RecordCancelled
	default:
		return RecordMissed
	}
}
