package core

import (
	"sync"
	"time"

	"github.com/avelov/tollcall/internal/domain"
)

// CallSession is one call attempt between a caller and a callee. All state
// mutation happens under the session mutex, so racing control messages for
// the same session resolve deterministically: the loser observes the updated
// state and degrades to a no-op or ErrInvalidTransition.
type CallSession struct {
	call domain.Call

	mu            sync.Mutex
	state         domain.CallState
	reason        domain.EndReason
	createdAt     time.Time
	connectedAt   time.Time
	endedAt       time.Time
	billedMinutes int
}

func NewCallSession(caller, callee domain.UserID) *CallSession {
	return &CallSession{
		call: domain.Call{
			ID:     domain.NewCallID(),
			Caller: caller,
			Callee: callee,
		},
		state:     domain.StatePending,
		createdAt: time.Now(),
	}
}

func (s *CallSession) Call() domain.Call { return s.call }
func (s *CallSession) ID() domain.CallID { return s.call.ID }

func (s *CallSession) State() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accept moves the session from pending to connected and records the connect
// timestamp. A second accept on an already-connected session is a no-op
// success (first=false) to tolerate at-least-once delivery from the relay.
func (s *CallSession) Accept(now time.Time) (first bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StatePending:
		s.state = domain.StateConnected
		s.connectedAt = now
		return true, nil
	case domain.StateConnected:
		return false, nil
	}
	return false, ErrInvalidTransition
}

// Finish applies a terminal transition. It is idempotent: finishing an
// already-terminal session changes nothing and reports ended=false.
// From pending any terminal state is reachable; from connected only ended is.
func (s *CallSession) Finish(to domain.CallState, reason domain.EndReason) (ended bool, err error) {
	if !to.Terminal() {
		return false, ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StatePending:
		if to == domain.StateEnded {
			return false, ErrInvalidTransition
		}
	case domain.StateConnected:
		if to != domain.StateEnded {
			return false, ErrInvalidTransition
		}
	default:
		// Already terminal. Applying a terminal transition twice is a no-op.
		return false, nil
	}
	s.state = to
	s.reason = reason
	s.endedAt = time.Now()
	return true, nil
}

// EndReason is only meaningful once the session is terminal.
func (s *CallSession) EndReason() domain.EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ConnectedAt reports the connect timestamp; ok is false while still pending.
func (s *CallSession) ConnectedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectedAt, !s.connectedAt.IsZero()
}

// ConnectedFor is the billable duration: connect to end for finished calls,
// connect to now for live ones. Zero if the call never connected.
func (s *CallSession) ConnectedFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectedAt.IsZero() {
		return 0
	}
	end := now
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	if end.Before(s.connectedAt) {
		return 0
	}
	return end.Sub(s.connectedAt)
}

// MarkBilled advances the billed-minute watermark to minuteIndex and reports
// whether it actually moved. A stale or duplicate tick finds the watermark
// already at or past its index and charges nothing.
func (s *CallSession) MarkBilled(minuteIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if minuteIndex <= s.billedMinutes {
		return false
	}
	s.billedMinutes = minuteIndex
	return true
}

func (s *CallSession) BilledMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.billedMinutes
}

// ClaimUnbilled takes ownership of every minute up to total that no tick has
// billed yet and advances the watermark to total, in one critical section.
// The returned count is what the caller owes; zero means the ticks already
// covered everything. A tick racing the final settle therefore charges its
// minute exactly once, on whichever side claimed it first.
func (s *CallSession) ClaimUnbilled(total int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	owed := total - s.billedMinutes
	if owed <= 0 {
		return 0
	}
	s.billedMinutes = total
	return owed
}

// Record builds the durable call record for a terminal session.
func (s *CallSession) Record() domain.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dur time.Duration
	if !s.connectedAt.IsZero() && !s.endedAt.IsZero() {
		dur = s.endedAt.Sub(s.connectedAt)
	}
	return domain.CallRecord{
		CallID:   s.call.ID,
		Caller:   s.call.Caller,
		Callee:   s.call.Callee,
		Duration: dur,
		Status:   domain.RecordStatusFor(s.state),
		EndedAt:  s.endedAt,
	}
}

// SessionDTO is a read-only view for APIs (no lock, no internals).
type SessionDTO struct {
	ID            domain.CallID    `json:"id"`
	Caller        domain.UserID    `json:"caller"`
	Callee        domain.UserID    `json:"callee"`
	State         domain.CallState `json:"state"`
	BilledMinutes int              `json:"billed_minutes"`
}

func (s *CallSession) Snapshot() SessionDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionDTO{
		ID:            s.call.ID,
		Caller:        s.call.Caller,
		Callee:        s.call.Callee,
		State:         s.state,
		BilledMinutes: s.billedMinutes,
	}
}
