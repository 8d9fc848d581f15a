package signal

import (
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleInitiateCall(
	conn *WsSignalConn,
	data []byte,
) {
	type initiatePayload struct {
		Type          string         `json:"type"`
		CallerProfile profilePayload `json:"callerProfile"`
		CalleeID      string         `json:"calleeId" validate:"required,max=64"`
		CallKind      string         `json:"callKind" validate:"required,oneof=audio video"`
	}
	var p initiatePayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	if uid, ok := ctl.Orch.Presence.UserOf(conn.id); ok && !ctl.limiter.Allow(uid) {
		log.Warn().Str("module", "signal").Str("user", string(uid)).Msg("initiate-call rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	ctl.Orch.InitiateCall(conn, p.CallerProfile.domain(), domain.UserID(p.CalleeID), domain.CallKind(p.CallKind))
}

func (ctl *SignalWSController) handleCallAccept(
	conn *WsSignalConn,
	data []byte,
) {
	type acceptPayload struct {
		Type          string         `json:"type"`
		SessionID     string         `json:"sessionId" validate:"required,max=64"`
		CallerID      string         `json:"callerId" validate:"max=64"`
		CalleeProfile profilePayload `json:"calleeProfile"`
	}
	var p acceptPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.AcceptCall(conn, domain.SessionID(p.SessionID), p.CalleeProfile.domain())
}

func (ctl *SignalWSController) handleCallReject(
	conn *WsSignalConn,
	data []byte,
) {
	type rejectPayload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId" validate:"required,max=64"`
		CallerID  string `json:"callerId" validate:"max=64"`
	}
	var p rejectPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.RejectCall(conn, domain.SessionID(p.SessionID))
}

func (ctl *SignalWSController) handleCallCancel(
	conn *WsSignalConn,
	data []byte,
) {
	type cancelPayload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId" validate:"required,max=64"`
		CalleeID  string `json:"calleeId" validate:"max=64"`
	}
	var p cancelPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.CancelCall(conn, domain.SessionID(p.SessionID))
}

func (ctl *SignalWSController) handleEndCall(
	conn *WsSignalConn,
	data []byte,
) {
	type endPayload struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId" validate:"required_without=TargetID,max=64"`
		TargetID  string `json:"targetId" validate:"max=64"`
	}
	var p endPayload
	if !ctl.decode(conn, data, &p) {
		return
	}
	ctl.Orch.EndCall(conn, domain.SessionID(p.SessionID), domain.UserID(p.TargetID))
}
