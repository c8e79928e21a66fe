package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
	"github.com/avelov/tollcall/internal/metrics"
)

// BillingClock meters connected sessions. Each session gets its own Run
// goroutine whose charge boundaries are anchored to that session's connect
// timestamp, so sessions started at different moments bill independently and
// never drift against each other.
//
// A tick charges the minute that just elapsed. A tick that fails with
// ErrInsufficientFunds ends the call through OnForcedEnd without charging
// that minute; any other ledger error is retried Retries times before the
// call is ended with reason billing_unavailable, because an unmetered
// ongoing call is not an acceptable failure mode.
type BillingClock struct {
	Ledger   core.Ledger
	Rate     int64         // cents per billed interval
	Interval time.Duration // production: one minute
	Retries  int

	// OnForcedEnd is invoked from the billing goroutine when the session must
	// be terminated for non-payment or ledger unavailability.
	OnForcedEnd func(s *core.CallSession, reason domain.EndReason)
}

const retryBackoff = 500 * time.Millisecond

// Run meters one connected session until ctx is cancelled. Cancellation
// wakes it immediately; it never sleeps out a remaining tick.
func (b *BillingClock) Run(ctx context.Context, s *core.CallSession) {
	connectedAt, ok := s.ConnectedAt()
	if !ok {
		log.Error().Str("module", "app.billing").Str("call_id", string(s.ID())).
			Msg("billing started for a session that never connected")
		return
	}
	caller := s.Call().Caller

	for {
		minute := s.BilledMinutes() + 1
		boundary := connectedAt.Add(time.Duration(minute) * b.Interval)
		timer := time.NewTimer(time.Until(boundary))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		// Both channels can be ready at once when cancellation lands on a
		// boundary; cancellation must win or a stopped session keeps ticking.
		if ctx.Err() != nil {
			return
		}

		if !s.MarkBilled(minute) {
			// Final settle got here first.
			continue
		}
		if err := b.charge(ctx, caller, s.ID(), minute); err != nil {
			reason := domain.ReasonBillingUnavailable
			if errors.Is(err, core.ErrInsufficientFunds) {
				reason = domain.ReasonInsufficientFunds
			}
			log.Warn().Err(err).Str("module", "app.billing").Str("call_id", string(s.ID())).
				Int("minute", minute).Str("reason", string(reason)).Msg("tick failed, forcing hangup")
			metrics.BillingErrors.Inc()
			if b.OnForcedEnd != nil {
				b.OnForcedEnd(s, reason)
			}
			return
		}
		metrics.BillingTicks.Inc()
	}
}

// charge debits one interval's fee, retrying transient ledger failures.
// ErrInsufficientFunds is definitive and never retried: retrying a rejected
// debit is how double charges happen.
func (b *BillingClock) charge(ctx context.Context, caller domain.UserID, id domain.CallID, minute int) error {
	var err error
	for attempt := 0; ; attempt++ {
		_, err = b.Ledger.Debit(ctx, caller, b.Rate, id, minute)
		if err == nil || errors.Is(err, core.ErrInsufficientFunds) {
			return err
		}
		if attempt >= b.Retries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(retryBackoff):
		}
	}
}

// Settle charges the final partial interval, rounded up, minus what the
// periodic ticks already took. ClaimUnbilled reads the watermark and advances
// it in one critical section, so a tick racing the settle cannot slip its
// charge in between and double-bill a minute. When the full amount is not
// covered the remaining balance is drained, so the ledger stays non-negative
// and the shortfall is visible in the log.
func (b *BillingClock) Settle(ctx context.Context, s *core.CallSession) int64 {
	elapsed := s.ConnectedFor(time.Now())
	if elapsed <= 0 {
		return 0
	}
	total := int((elapsed + b.Interval - 1) / b.Interval)
	owed := s.ClaimUnbilled(total)
	if owed == 0 {
		return 0
	}
	caller := s.Call().Caller
	amount := int64(owed) * b.Rate

	if _, err := b.Ledger.Debit(ctx, caller, amount, s.ID(), total); err == nil {
		metrics.BillingTicks.Inc()
		return amount
	} else if !errors.Is(err, core.ErrInsufficientFunds) {
		log.Error().Err(err).Str("module", "app.billing").Str("call_id", string(s.ID())).
			Msg("final settle failed")
		metrics.BillingErrors.Inc()
		return 0
	}
	taken, err := b.Ledger.DebitUpTo(ctx, caller, amount, s.ID(), total)
	if err != nil {
		log.Error().Err(err).Str("module", "app.billing").Str("call_id", string(s.ID())).
			Msg("final settle drain failed")
		metrics.BillingErrors.Inc()
		return 0
	}
	return taken
}
