package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
	"github.com/avelov/tollcall/internal/ledger"
)

func newTestClock(l *ledger.Ledger, rate int64, interval time.Duration) (*BillingClock, chan domain.EndReason) {
	forced := make(chan domain.EndReason, 1)
	clock := &BillingClock{
		Ledger:   l,
		Rate:     rate,
		Interval: interval,
		Retries:  0,
	}
	clock.OnForcedEnd = func(s *core.CallSession, reason domain.EndReason) {
		forced <- reason
	}
	return clock, forced
}

func TestClockChargesUntilExhausted(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	l.SetBalance("alice", 250)
	clock, forced := newTestClock(l, 100, 40*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if _, err := s.Accept(time.Now()); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go clock.Run(ctx, s)

	select {
	case reason := <-forced:
		if reason != domain.ReasonInsufficientFunds {
			t.Errorf("forced reason = %v, want insufficient_funds", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("clock never exhausted the balance")
	}

	// Two full intervals covered, the third tick rejected and not charged.
	if got := l.Balance("alice"); got != 50 {
		t.Errorf("Balance() = %d, want 50", got)
	}
	if got := len(store.CallDebits(s.ID())); got != 2 {
		t.Errorf("debit rows = %d, want 2", got)
	}
}

func TestClockStopsOnCancel(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	l.SetBalance("alice", 1000)
	clock, _ := newTestClock(l, 100, 40*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if _, err := s.Accept(time.Now()); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go clock.Run(ctx, s)
	time.Sleep(60 * time.Millisecond) // one boundary passes
	cancel()
	time.Sleep(120 * time.Millisecond) // three more would pass if still running

	if got := l.Balance("alice"); got != 900 {
		t.Errorf("Balance() = %d after cancel, want 900", got)
	}
}

func TestSettleDrainsShortBalance(t *testing.T) {
	// Prepaid 150 at 100/interval, talked for ~1.6 intervals: two intervals
	// owed, only 150 available, the ledger is drained to zero.
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	l.SetBalance("alice", 150)
	clock, _ := newTestClock(l, 100, 50*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if _, err := s.Accept(time.Now().Add(-80 * time.Millisecond)); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	taken := clock.Settle(context.Background(), s)
	if taken != 150 {
		t.Errorf("Settle() = %d, want 150", taken)
	}
	if got := l.Balance("alice"); got != 0 {
		t.Errorf("Balance() = %d, want 0", got)
	}

	// Settling again charges nothing.
	if taken := clock.Settle(context.Background(), s); taken != 0 {
		t.Errorf("second Settle() = %d, want 0", taken)
	}
}

func TestSettleChargesOnlyRemainder(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store)
	l.SetBalance("alice", 1000)
	clock, _ := newTestClock(l, 100, 50*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if _, err := s.Accept(time.Now().Add(-80 * time.Millisecond)); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	// Simulate the periodic tick that already charged the first interval.
	s.MarkBilled(1)
	if _, err := l.Debit(context.Background(), "alice", 100, s.ID(), 1); err != nil {
		t.Fatalf("Debit() error = %v", err)
	}

	taken := clock.Settle(context.Background(), s)
	if taken != 100 {
		t.Errorf("Settle() = %d, want 100 (one remaining interval)", taken)
	}
	if got := l.Balance("alice"); got != 800 {
		t.Errorf("Balance() = %d, want 800", got)
	}
	if got := s.BilledMinutes(); got != 2 {
		t.Errorf("BilledMinutes() = %d, want 2", got)
	}
}

func TestSettleNeverConnected(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore())
	l.SetBalance("alice", 1000)
	clock, _ := newTestClock(l, 100, 50*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if taken := clock.Settle(context.Background(), s); taken != 0 {
		t.Errorf("Settle() = %d for never-connected session, want 0", taken)
	}
	if got := l.Balance("alice"); got != 1000 {
		t.Errorf("Balance() = %d, want 1000", got)
	}
}

type downStore struct {
	ledger.MemoryStore
}

func (d *downStore) Append(ctx context.Context, tx ledger.Transaction) error {
	return errors.New("store down")
}

func TestClockForcesEndWhenLedgerUnavailable(t *testing.T) {
	l := ledger.New(&downStore{})
	l.SetBalance("alice", 1000)
	clock, forced := newTestClock(l, 100, 30*time.Millisecond)

	s := core.NewCallSession("alice", "bob")
	if _, err := s.Accept(time.Now()); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go clock.Run(ctx, s)

	select {
	case reason := <-forced:
		if reason != domain.ReasonBillingUnavailable {
			t.Errorf("forced reason = %v, want billing_unavailable", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("clock never gave up on the unavailable ledger")
	}
	if got := l.Balance("alice"); got != 1000 {
		t.Errorf("Balance() = %d, want 1000 (nothing charged)", got)
	}
}
