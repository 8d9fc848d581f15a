package orch

import (
	"errors"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) InitiateCall(conn core.SignalConnection, callerProfile domain.Profile, calleeID domain.UserID, kind domain.CallKind) {
	callerID, ok := o.sender(conn)
	if !ok {
		return
	}
	s, err := o.Ledger.Open(domain.Party{ID: callerID, Profile: callerProfile}, calleeID, kind)
	if err != nil {
		code := callErrorCode(err)
		o.Metrics.CallError(code)
		log.Info().Err(err).Str("module", "orch").Str("caller", string(callerID)).Str("callee", string(calleeID)).Msg("call refused")
		o.send(conn, CallError{Type: EventCallError, Code: code, Message: err.Error(), CalleeID: calleeID})
		return
	}
	o.Metrics.CallOpened()

	o.sendTo(s.Callee.ID, IncomingCall{
		Type:          EventIncomingCall,
		SessionID:     s.ID,
		CallerID:      callerID,
		CallerProfile: callerProfile,
		CallKind:      s.Kind,
	})
	o.send(conn, CallInitiated{Type: EventCallInitiated, SessionID: s.ID, CalleeID: s.Callee.ID})
}

func (o *Orchestrator) AcceptCall(conn core.SignalConnection, id domain.SessionID, calleeProfile domain.Profile) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	s, err := o.Ledger.Accept(uid, id)
	if o.swallow(err, "accept", uid, id) {
		return
	}
	o.Metrics.CallTransition(string(s.State))
	o.sendTo(s.Caller.ID, CallAccepted{Type: EventCallAccepted, SessionID: s.ID, CalleeProfile: calleeProfile})
}

func (o *Orchestrator) RejectCall(conn core.SignalConnection, id domain.SessionID) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	s, err := o.Ledger.Reject(uid, id)
	if o.swallow(err, "reject", uid, id) {
		return
	}
	o.Metrics.CallTransition(string(s.State))
	o.sendTo(s.Caller.ID, CallResolved{Type: EventCallRejected, SessionID: s.ID})
}

func (o *Orchestrator) CancelCall(conn core.SignalConnection, id domain.SessionID) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	s, err := o.Ledger.Cancel(uid, id)
	if o.swallow(err, "cancel", uid, id) {
		return
	}
	o.Metrics.CallTransition(string(s.State))
	o.sendTo(s.Callee.ID, CallResolved{Type: EventCallCancelled, SessionID: s.ID})
}

// EndCall ends the session and always tells the peer to hang up, even when
// the ledger had nothing left to transition.
func (o *Orchestrator) EndCall(conn core.SignalConnection, id domain.SessionID, targetID domain.UserID) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	s, err := o.Ledger.End(uid, id)
	switch {
	case err == nil:
		o.Metrics.CallTransition(string(s.State))
		targetID = s.Peer(uid)
	case errors.Is(err, app.ErrInvalidTransition):
		log.Debug().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("end-call without transition")
		targetID = s.Peer(uid)
	case errors.Is(err, app.ErrUnknownSession):
		log.Debug().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("end-call for unknown session")
	default:
		log.Warn().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("end-call refused")
		return
	}
	if targetID == "" || targetID == uid {
		return
	}
	o.sendTo(targetID, EndCall{Type: EventEndCall, SessionID: id, From: uid})
}

// swallow logs lifecycle failures caused by stale or duplicate events.
// It reports true when the caller should stop.
func (o *Orchestrator) swallow(err error, op string, uid domain.UserID, id domain.SessionID) bool {
	if err == nil {
		return false
	}
	ev := log.Debug()
	if errors.Is(err, app.ErrNotParticipant) {
		ev = log.Warn()
	}
	ev.Err(err).Str("module", "orch").Str("op", op).Str("user", string(uid)).Str("session", string(id)).Msg("stale lifecycle event ignored")
	return true
}

func callErrorCode(err error) string {
	switch {
	case errors.Is(err, app.ErrTargetUnreachable):
		return CodeTargetUnreachable
	case errors.Is(err, app.ErrCallInFlight):
		return CodeCallInFlight
	case errors.Is(err, app.ErrInvalidCall):
		return CodeInvalidCall
	default:
		return CodeInternal
	}
}
