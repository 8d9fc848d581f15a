package orch

import (
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// AnnouncePresence registers conn as the endpoint of uid and fans the
// updated roster out to everyone online.
func (o *Orchestrator) AnnouncePresence(conn core.SignalConnection, uid domain.UserID, profile domain.Profile) {
	o.rosterMu.Lock()
	defer o.rosterMu.Unlock()
	roster := o.Presence.Register(uid, conn, profile)
	log.Info().Str("module", "orch").Str("user", string(uid)).Int("online", len(roster)).Msg("user online")
	o.broadcastRoster(roster)
}

// Roster is the current online list.
func (o *Orchestrator) Roster() []domain.User {
	return o.Presence.Snapshot()
}
