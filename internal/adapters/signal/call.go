package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

// errorCode maps taxonomy errors onto the wire vocabulary. InvalidTransition
// and SessionNotFound return "": duplicates and stale references are logged
// and ignored, never surfaced as hard failures.
func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, core.ErrPeerUnreachable):
		return "peer_unreachable"
	case errors.Is(err, core.ErrAlreadyInCall):
		return "already_in_call"
	case errors.Is(err, core.ErrSelfCall):
		return "self_call"
	case errors.Is(err, core.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, core.ErrInvalidTransition), errors.Is(err, core.ErrSessionNotFound):
		return ""
	}
	return "internal"
}

func (ctl *SignalWSController) replyError(c *WsSignalConn, callID domain.CallID, err error) {
	code := errorCode(err)
	if code == "" {
		log.Debug().Err(err).Str("module", "signal").Str("call_id", string(callID)).Msg("ignored control message")
		return
	}
	resp := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id,omitempty"`
		Error  string        `json:"error"`
	}{"error", callID, code}
	ctl.sendJSON(c, resp)
}

func (ctl *SignalWSController) handleInvite(uid domain.UserID, c *WsSignalConn, data []byte) {
	type invitePayload struct {
		Type   string `json:"type"`
		Callee string `json:"callee"`
	}
	var p invitePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Callee == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad invite payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if !ctl.Limiter.Allow(uid) {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "too_many_invites"})
		return
	}

	log.Info().Str("module", "signal").Str("user", string(uid)).Str("callee", p.Callee).Msg("invite")
	id, err := ctl.Orch.CreateCall(context.Background(), uid, domain.UserID(p.Callee))
	if err != nil {
		ctl.replyError(c, id, err)
		return
	}
	resp := struct {
		Type   string        `json:"type"`
		CallID domain.CallID `json:"call_id"`
		Callee string        `json:"callee"`
	}{"call_created", id, p.Callee}
	ctl.sendJSON(c, resp)
}

func (ctl *SignalWSController) handleRespond(uid domain.UserID, c *WsSignalConn, data []byte, accept bool) {
	type respondPayload struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
	}
	var p respondPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad respond payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	id := domain.CallID(p.CallID)
	log.Info().Str("module", "signal").Str("user", string(uid)).
		Str("call_id", p.CallID).Bool("accept", accept).Msg("respond")
	if err := ctl.Orch.Respond(context.Background(), id, uid, accept); err != nil {
		ctl.replyError(c, id, err)
	}
}

func (ctl *SignalWSController) handleCancel(uid domain.UserID, c *WsSignalConn, data []byte) {
	type cancelPayload struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
	}
	var p cancelPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	id := domain.CallID(p.CallID)
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("call_id", p.CallID).Msg("cancel")
	if err := ctl.Orch.CancelCall(context.Background(), id, uid); err != nil {
		ctl.replyError(c, id, err)
	}
}

func (ctl *SignalWSController) handleHangup(uid domain.UserID, c *WsSignalConn, data []byte) {
	type hangupPayload struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
	}
	var p hangupPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	id := domain.CallID(p.CallID)
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("call_id", p.CallID).Msg("hangup")
	if err := ctl.Orch.Hangup(context.Background(), id, uid); err != nil {
		ctl.replyError(c, id, err)
	}
}

// handleNegotiation forwards an opaque media-negotiation payload to the
// peer. The payload structure belongs to the browsers, not to this relay.
func (ctl *SignalWSController) handleNegotiation(uid domain.UserID, c *WsSignalConn, data []byte) {
	type negotiationPayload struct {
		Type    string          `json:"type"`
		CallID  string          `json:"call_id"`
		Payload json.RawMessage `json:"payload"`
	}
	var p negotiationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.CallID == "" {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	id := domain.CallID(p.CallID)
	if err := ctl.Orch.Negotiate(context.Background(), id, uid, p.Payload); err != nil {
		ctl.replyError(c, id, err)
	}
}
