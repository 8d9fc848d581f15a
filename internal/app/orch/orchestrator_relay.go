package orch

import (
	"encoding/json"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
)

// RelaySignal forwards an offer, answer or ICE candidate to targetID as
// is. Nothing is reported back when the target is gone.
func (o *Orchestrator) RelaySignal(conn core.SignalConnection, msgType string, targetID domain.UserID, payload json.RawMessage) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	o.sendTo(targetID, Relay{Type: msgType, From: uid, Payload: payload})
}

func (o *Orchestrator) MediaToggle(conn core.SignalConnection, targetID domain.UserID, kind string, enabled bool) {
	uid, ok := o.sender(conn)
	if !ok {
		return
	}
	o.sendTo(targetID, RemoteMediaState{Type: EventRemoteMediaState, From: uid, Kind: kind, Enabled: enabled})
}
