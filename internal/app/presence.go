package app

import (
	"sort"
	"sync"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceEntry is the live endpoint of one online user.
type PresenceEntry struct {
	UserID  domain.UserID
	Conn    core.SignalConnection
	Profile domain.Profile
}

// Presence maps user identities to their current connection.
// At most one entry exists per user; the newest registration wins.
type Presence struct {
	mu     sync.RWMutex
	users  map[domain.UserID]*PresenceEntry
	byConn map[core.ConnID]domain.UserID
}

func NewPresence() *Presence {
	return &Presence{
		users:  make(map[domain.UserID]*PresenceEntry),
		byConn: make(map[core.ConnID]domain.UserID),
	}
}

// Register inserts or replaces the entry for uid and returns the roster
// as it stands right after the change.
func (p *Presence) Register(uid domain.UserID, conn core.SignalConnection, profile domain.Profile) []domain.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.users[uid]; ok && old.Conn != nil && old.Conn.ID() != conn.ID() {
		delete(p.byConn, old.Conn.ID())
		log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("old_conn", string(old.Conn.ID())).Msg("superseded connection")
	}
	// A connection announcing a different identity gives up the old one.
	if prev, ok := p.byConn[conn.ID()]; ok && prev != uid {
		delete(p.users, prev)
	}
	p.users[uid] = &PresenceEntry{UserID: uid, Conn: conn, Profile: profile}
	p.byConn[conn.ID()] = uid
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("conn", string(conn.ID())).Msg("registered")
	return p.snapshotLocked()
}

func (p *Presence) Lookup(uid domain.UserID) (PresenceEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.users[uid]
	if !ok {
		return PresenceEntry{}, false
	}
	return *e, true
}

func (p *Presence) Online(uid domain.UserID) bool {
	_, ok := p.Lookup(uid)
	return ok
}

// UserOf resolves the identity announced on a connection.
func (p *Presence) UserOf(id core.ConnID) (domain.UserID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	uid, ok := p.byConn[id]
	return uid, ok
}

// RemoveByConnection drops the entry owned by the connection. It reports
// false when the user has already moved to another connection.
func (p *Presence) RemoveByConnection(id core.ConnID) (domain.UserID, []domain.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	uid, ok := p.byConn[id]
	if !ok {
		return "", nil, false
	}
	delete(p.byConn, id)
	delete(p.users, uid)
	log.Info().Str("module", "app.presence").Str("user", string(uid)).Str("conn", string(id)).Msg("removed")
	return uid, p.snapshotLocked(), true
}

// Snapshot returns the roster ordered by user id.
func (p *Presence) Snapshot() []domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Entries returns every live entry; used for roster fan-out.
func (p *Presence) Entries() []PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PresenceEntry, 0, len(p.users))
	for _, e := range p.users {
		out = append(out, *e)
	}
	return out
}

func (p *Presence) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

// Clear forgets every entry. Connections are owned by the gateway and are
// not closed here.
func (p *Presence) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[domain.UserID]*PresenceEntry)
	p.byConn = make(map[core.ConnID]domain.UserID)
	log.Info().Str("module", "app.presence").Msg("cleared")
}

func (p *Presence) snapshotLocked() []domain.User {
	out := make([]domain.User, 0, len(p.users))
	for uid, e := range p.users {
		out = append(out, domain.User{ID: uid, Profile: e.Profile})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
