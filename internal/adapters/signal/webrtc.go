package signal

import (
	"encoding/json"

	"github.com/dkeye/CallRelay/internal/domain"
)

// handleRelay passes offer, answer and candidate payloads through without
// looking inside them.
func (ctl *SignalWSController) handleRelay(
	conn *WsSignalConn,
	msgType string,
	data []byte,
) {
	type relayPayload struct {
		Type     string          `json:"type"`
		TargetID string          `json:"targetId" validate:"required,max=64"`
		Payload  json.RawMessage `json:"payload" validate:"required"`
	}
	var p relayPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.RelaySignal(conn, msgType, domain.UserID(p.TargetID), p.Payload)
}

func (ctl *SignalWSController) handleMediaToggle(
	conn *WsSignalConn,
	data []byte,
) {
	type togglePayload struct {
		Type     string `json:"type"`
		TargetID string `json:"targetId" validate:"required,max=64"`
		Kind     string `json:"kind" validate:"required,oneof=audio video screen"`
		Enabled  bool   `json:"enabled"`
	}
	var p togglePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.MediaToggle(conn, domain.UserID(p.TargetID), p.Kind, p.Enabled)
}
