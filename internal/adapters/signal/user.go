package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/domain"
)

// handleRename updates the caller's directory entry and confirms with a
// fresh whoami.
func (ctl *SignalWSController) handleRename(uid domain.UserID, c *WsSignalConn, data []byte) {
	type renamePayload struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var p renamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	ctl.Orch.Registry.GetOrCreateUser(uid)
	if err := ctl.Orch.Registry.UpdateUsername(uid, p.Name); err != nil {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "invalid_name"})
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("name", p.Name).Msg("rename")
	ctl.handleWhoAmI(uid, c)
}

// handleWhoAmI reports the caller's directory entry and, when one exists,
// the call the caller currently participates in.
func (ctl *SignalWSController) handleWhoAmI(uid domain.UserID, c *WsSignalConn) {
	user := ctl.Orch.Registry.GetOrCreateUser(uid)

	resp := struct {
		Type     string        `json:"type"`
		UserID   domain.UserID `json:"user_id"`
		Username string        `json:"username"`
		CallID   domain.CallID `json:"call_id,omitempty"`
	}{
		Type:     "whoami",
		UserID:   uid,
		Username: user.Username,
	}
	if s, ok := ctl.Orch.Registry.ByUser(uid); ok {
		resp.CallID = s.ID()
	}
	ctl.sendJSON(c, resp)
}
