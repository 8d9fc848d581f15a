package orch

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Orchestrator routes signaling between connected users using the
// presence registry and the session ledger.
type Orchestrator struct {
	Presence *app.Presence
	Ledger   *app.Ledger
	Policy   app.Policy
	Metrics  *metrics.Metrics

	// rosterMu orders presence mutations with their broadcasts so the
	// last roster a client sees matches the last write.
	rosterMu sync.Mutex
}

// sender resolves the announced identity of conn, replying with an error
// when the connection has not announced yet.
func (o *Orchestrator) sender(conn core.SignalConnection) (domain.UserID, bool) {
	uid, ok := o.Presence.UserOf(conn.ID())
	if !ok {
		o.send(conn, ErrorEvent{Type: EventError, Error: CodeNotAnnounced})
		return "", false
	}
	return uid, true
}

// sendTo delivers v to the current connection of uid. Absent users are
// skipped silently.
func (o *Orchestrator) sendTo(uid domain.UserID, v any) bool {
	e, ok := o.Presence.Lookup(uid)
	if !ok {
		o.Metrics.Dropped(metrics.DropTargetOffline)
		log.Debug().Str("module", "orch").Str("target", string(uid)).Msg("target offline, dropped")
		return false
	}
	return o.send(e.Conn, v)
}

func (o *Orchestrator) send(conn core.SignalConnection, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal event")
		return false
	}
	err = conn.TrySend(b)
	if err == nil {
		return true
	}
	if !errors.Is(err, core.ErrBackpressure) {
		o.Metrics.Dropped(metrics.DropClosed)
		return false
	}
	o.Metrics.Dropped(metrics.DropBackpressure)
	if o.Policy == nil {
		return false
	}
	switch o.Policy.OnBackPressure(conn) {
	case app.CloseConn:
		log.Warn().Str("module", "orch").Str("conn", string(conn.ID())).Msg("slow connection closed")
		conn.Close()
	case app.DropFrame, app.NoAction:
	}
	return false
}

// broadcastRoster must be called with rosterMu held.
func (o *Orchestrator) broadcastRoster(users []domain.User) {
	o.Metrics.SetOnline(len(users))
	ev := OnlineUsers{Type: EventOnlineUsers, Users: users}
	for _, e := range o.Presence.Entries() {
		o.send(e.Conn, ev)
	}
}

// OnDisconnect is called by the gateway once a transport is closed.
// Sessions are left as they are; the sweeper resolves orphans.
func (o *Orchestrator) OnDisconnect(conn core.SignalConnection) {
	o.rosterMu.Lock()
	defer o.rosterMu.Unlock()
	uid, roster, ok := o.Presence.RemoveByConnection(conn.ID())
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("user", string(uid)).Msg("user offline")
	o.broadcastRoster(roster)
}

// OnSweep tells any remaining party that a swept call is over.
func (o *Orchestrator) OnSweep(res app.SweepResult) {
	for _, s := range res.Missed {
		o.Metrics.CallTransition(string(domain.StateMissed))
		ev := CallResolved{Type: EventCallMissed, SessionID: s.ID}
		o.sendTo(s.Caller.ID, ev)
		o.sendTo(s.Callee.ID, ev)
	}
	// Each party hears the hang-up as coming from the other side.
	for _, s := range res.Ended {
		o.Metrics.CallTransition(string(domain.StateEnded))
		o.sendTo(s.Caller.ID, EndCall{Type: EventEndCall, SessionID: s.ID, From: s.Callee.ID})
		o.sendTo(s.Callee.ID, EndCall{Type: EventEndCall, SessionID: s.ID, From: s.Caller.ID})
	}
}
