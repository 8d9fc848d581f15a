package signal

import (
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleAnnounce(
	conn *WsSignalConn,
	data []byte,
) {
	type announcePayload struct {
		Type    string         `json:"type"`
		UserID  string         `json:"userId" validate:"required,max=64"`
		Profile profilePayload `json:"profile"`
	}
	var p announcePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	uid, err := domain.ParseUserID(p.UserID)
	if err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if conn.identity != "" && conn.identity != uid {
		log.Warn().Str("module", "signal").Str("conn", string(conn.id)).Str("identity", string(conn.identity)).Str("announced", string(uid)).Msg("identity mismatch")
		ctl.sendError(conn, "identity_mismatch")
		return
	}

	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("user", string(uid)).Msg("announce")
	ctl.Orch.AnnouncePresence(conn, uid, p.Profile.domain())
}
