// Package orch wires the session registry, the ledger, the billing clock and
// the signaling gateway into the call-control operations the adapters call.
package orch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/app"
	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
	"github.com/avelov/tollcall/internal/metrics"
)

// CallRecorder persists the trace of a finished call.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec domain.CallRecord) error
}

type Orchestrator struct {
	Registry      *app.Registry
	Gateway       core.Gateway
	Billing       *app.BillingClock
	Recorder      CallRecorder
	InviteTimeout time.Duration
}

// New wires the orchestrator and hooks the billing clock's forced-hangup
// path back into session teardown.
func New(reg *app.Registry, gw core.Gateway, billing *app.BillingClock, rec CallRecorder, inviteTimeout time.Duration) *Orchestrator {
	o := &Orchestrator{
		Registry:      reg,
		Gateway:       gw,
		Billing:       billing,
		Recorder:      rec,
		InviteTimeout: inviteTimeout,
	}
	// The forced-end path runs inside the billing goroutine itself, so it
	// must not wait for that goroutine to exit.
	billing.OnForcedEnd = func(s *core.CallSession, reason domain.EndReason) {
		o.teardown(context.Background(), s, domain.StateEnded, reason, false)
	}
	return o
}

// CreateCall makes a pending session and pushes the invite to the callee.
// The callee must have an open channel; creation fails with PeerUnreachable
// otherwise and nothing is registered.
func (o *Orchestrator) CreateCall(ctx context.Context, caller, callee domain.UserID) (domain.CallID, error) {
	if !o.Gateway.Online(callee) {
		return "", core.ErrPeerUnreachable
	}
	s, err := o.Registry.Create(caller, callee)
	if err != nil {
		return "", err
	}
	metrics.ActiveCalls.Inc()

	if err := o.Gateway.Push(callee, core.Event{
		Kind:   core.EventInvited,
		CallID: s.ID(),
		From:   caller,
	}); err != nil {
		o.finish(ctx, s, domain.StateMissed, domain.ReasonPeerUnreachable)
		return "", core.ErrPeerUnreachable
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	o.Registry.BindInviteTimeout(s.ID(), cancel)
	go o.watchInvite(watchCtx, s)

	log.Info().Str("module", "app.orch").Str("call_id", string(s.ID())).
		Str("caller", string(caller)).Str("callee", string(callee)).Msg("invite sent")
	return s.ID(), nil
}

// watchInvite times out a pending invite that the callee never answered.
func (o *Orchestrator) watchInvite(ctx context.Context, s *core.CallSession) {
	timer := time.NewTimer(o.InviteTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		log.Info().Str("module", "app.orch").Str("call_id", string(s.ID())).Msg("invite timed out")
		o.finish(context.Background(), s, domain.StateTimedOut, domain.ReasonTimedOut)
	}
}

// Respond is the callee answering an invite. A duplicate accept on an
// already-connected session is a no-op success.
func (o *Orchestrator) Respond(ctx context.Context, id domain.CallID, user domain.UserID, accept bool) error {
	s, ok := o.Registry.ByID(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	if user != s.Call().Callee {
		return core.ErrNotParticipant
	}
	if !accept {
		return o.finish(ctx, s, domain.StateRejected, domain.ReasonRejected)
	}

	first, err := s.Accept(time.Now())
	if err != nil {
		return err
	}
	if !first {
		return nil
	}
	// Connected exactly once: stop the invite watcher, start the meter.
	o.Registry.CancelTimers(id)
	billCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.Registry.BindBilling(id, cancel, done)
	go func() {
		defer close(done)
		o.Billing.Run(billCtx, s)
	}()

	if err := o.Gateway.Push(s.Call().Caller, core.Event{
		Kind:   core.EventAccepted,
		CallID: id,
		From:   user,
	}); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("call_id", string(id)).
			Msg("caller unreachable on accept")
		return o.finish(ctx, s, domain.StateEnded, domain.ReasonPeerUnreachable)
	}
	log.Info().Str("module", "app.orch").Str("call_id", string(id)).Msg("call connected")
	return nil
}

// CancelCall is the caller withdrawing a still-pending invite.
func (o *Orchestrator) CancelCall(ctx context.Context, id domain.CallID, user domain.UserID) error {
	s, ok := o.Registry.ByID(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	if user != s.Call().Caller {
		return core.ErrNotParticipant
	}
	return o.finish(ctx, s, domain.StateCancelled, domain.ReasonCancelled)
}

// Hangup ends a call from either side. On a still-pending session it acts as
// cancel (caller) or reject (callee), so a client can always send hangup.
func (o *Orchestrator) Hangup(ctx context.Context, id domain.CallID, user domain.UserID) error {
	s, ok := o.Registry.ByID(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	call := s.Call()
	if _, ok := call.Other(user); !ok {
		return core.ErrNotParticipant
	}

	// The state may flip between the read and the transition (accept racing
	// hangup); retry with the state observed after losing the race.
	for attempt := 0; attempt < 3; attempt++ {
		var to domain.CallState
		var reason domain.EndReason
		switch s.State() {
		case domain.StatePending:
			if user == call.Caller {
				to, reason = domain.StateCancelled, domain.ReasonCancelled
			} else {
				to, reason = domain.StateRejected, domain.ReasonRejected
			}
		case domain.StateConnected:
			to, reason = domain.StateEnded, domain.ReasonHangup
		default:
			return nil
		}
		if err := o.finish(ctx, s, to, reason); err == nil {
			return nil
		}
	}
	return core.ErrInvalidTransition
}

// Negotiate relays an opaque offer/answer/ICE payload to the peer. The
// payload is never inspected.
func (o *Orchestrator) Negotiate(ctx context.Context, id domain.CallID, from domain.UserID, payload json.RawMessage) error {
	s, ok := o.Registry.ByID(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	peer, ok := s.Call().Other(from)
	if !ok {
		return core.ErrNotParticipant
	}
	if s.State().Terminal() {
		return core.ErrSessionNotFound
	}
	if err := o.Gateway.Push(peer, core.Event{
		Kind:    core.EventNegotiation,
		CallID:  id,
		From:    from,
		Payload: payload,
	}); err != nil {
		o.peerLost(ctx, s, peer)
		return core.ErrPeerUnreachable
	}
	return nil
}

// UserDisconnected releases whatever session the user participates in, so
// the peer and the billing clock are not left waiting on a dead channel.
func (o *Orchestrator) UserDisconnected(ctx context.Context, user domain.UserID) {
	s, ok := o.Registry.ByUser(user)
	if !ok {
		return
	}
	log.Info().Str("module", "app.orch").Str("call_id", string(s.ID())).
		Str("user", string(user)).Msg("participant disconnected")
	o.peerLost(ctx, s, user)
}

// peerLost drives a session terminal after one participant became
// unreachable.
func (o *Orchestrator) peerLost(ctx context.Context, s *core.CallSession, lost domain.UserID) {
	for attempt := 0; attempt < 3; attempt++ {
		var to domain.CallState
		var reason domain.EndReason
		switch s.State() {
		case domain.StatePending:
			to = domain.StateMissed
			if lost == s.Call().Caller {
				reason = domain.ReasonMissed
			} else {
				reason = domain.ReasonPeerUnreachable
			}
		case domain.StateConnected:
			to, reason = domain.StateEnded, domain.ReasonHangup
		default:
			return
		}
		if err := o.finish(ctx, s, to, reason); err == nil {
			return
		}
	}
}

// finish is the single teardown scope: terminal transition, timer and meter
// cancellation, final settle, peer notification, registry release and the
// durable call record. Idempotent end to end because the transition is.
func (o *Orchestrator) finish(ctx context.Context, s *core.CallSession, to domain.CallState, reason domain.EndReason) error {
	return o.teardown(ctx, s, to, reason, true)
}

// joinMeter makes teardown wait for the billing goroutine to exit before
// settling, so no debit lands after finish returns. The forced-end path sets
// it false: there the billing goroutine is the caller and would wait on
// itself.
func (o *Orchestrator) teardown(ctx context.Context, s *core.CallSession, to domain.CallState, reason domain.EndReason, joinMeter bool) error {
	ended, err := s.Finish(to, reason)
	if err != nil {
		return err
	}
	if !ended {
		return nil
	}

	meterDone := o.Registry.CancelTimers(s.ID())
	if to == domain.StateEnded {
		if joinMeter && meterDone != nil {
			<-meterDone
		}
		o.Billing.Settle(ctx, s)
	}

	ev := core.Event{Kind: core.EventEnded, CallID: s.ID(), Reason: reason}
	call := s.Call()
	if err := o.Gateway.Push(call.Caller, ev); err != nil {
		log.Debug().Str("module", "app.orch").Str("user", string(call.Caller)).Msg("end push skipped")
	}
	if err := o.Gateway.Push(call.Callee, ev); err != nil {
		log.Debug().Str("module", "app.orch").Str("user", string(call.Callee)).Msg("end push skipped")
	}

	o.Registry.Remove(s.ID())
	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues(string(reason)).Inc()

	if err := o.Recorder.RecordCall(ctx, s.Record()); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("call_id", string(s.ID())).
			Msg("call record append failed")
	}
	log.Info().Str("module", "app.orch").Str("call_id", string(s.ID())).
		Str("state", string(to)).Str("reason", string(reason)).Msg("session finished")
	return nil
}

// Shutdown drains every active session with a hangup so no billing goroutine
// outlives the process teardown.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	for _, s := range o.Registry.Active() {
		o.peerLost(ctx, s, s.Call().Caller)
	}
}
