package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// PresenceLookup is the slice of the presence registry the ledger needs.
type PresenceLookup interface {
	Lookup(uid domain.UserID) (PresenceEntry, bool)
	Online(uid domain.UserID) bool
}

type LedgerConfig struct {
	// RingTimeout marks pending sessions missed on sweep once exceeded.
	// Zero disables it.
	RingTimeout time.Duration
	// Retention keeps terminal sessions in memory so late events resolve
	// to a known, finished session.
	Retention    time.Duration
	JournalQueue int
	WriteTimeout time.Duration
}

// Ledger owns in-flight call sessions and their state machine.
type Ledger struct {
	cfg      LedgerConfig
	presence PresenceLookup
	store    core.CallLog
	journal  *journal
	now      func() time.Time

	mu       sync.Mutex
	sessions map[domain.SessionID]*domain.CallSession
	// live indexes non-terminal sessions by unordered party pair.
	live map[pairKey]domain.SessionID
	// endpoints holds the connections each party used for a live session.
	endpoints map[domain.SessionID]endpoints
	// hungUp holds pending sessions whose end time was already stamped by
	// an end-call. They no longer occupy their pair and cannot be accepted.
	hungUp map[domain.SessionID]struct{}
}

type endpoints struct {
	caller, callee core.ConnID
}

type pairKey struct{ a, b domain.UserID }

func newPairKey(x, y domain.UserID) pairKey {
	if x > y {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

func NewLedger(cfg LedgerConfig, presence PresenceLookup, store core.CallLog) *Ledger {
	return &Ledger{
		cfg:       cfg,
		presence:  presence,
		store:     store,
		journal:   newJournal(store, cfg.JournalQueue, cfg.WriteTimeout),
		now:       time.Now,
		sessions:  make(map[domain.SessionID]*domain.CallSession),
		live:      make(map[pairKey]domain.SessionID),
		endpoints: make(map[domain.SessionID]endpoints),
		hungUp:    make(map[domain.SessionID]struct{}),
	}
}

// Open creates a pending session from caller to callee. The callee must
// be present. A live session between the same pair blocks the call unless
// one of its parties has since dropped or moved to another connection, in
// which case that session is finalized first.
func (l *Ledger) Open(caller domain.Party, calleeID domain.UserID, kind domain.CallKind) (domain.CallSession, error) {
	if !kind.Valid() {
		return domain.CallSession{}, fmt.Errorf("%w: call kind %q", ErrInvalidCall, kind)
	}
	if caller.ID == calleeID {
		return domain.CallSession{}, fmt.Errorf("%w: self call", ErrInvalidCall)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	callee, ok := l.presence.Lookup(calleeID)
	if !ok {
		return domain.CallSession{}, fmt.Errorf("%w: %s", ErrTargetUnreachable, calleeID)
	}
	key := newPairKey(caller.ID, calleeID)
	if existing, ok := l.live[key]; ok {
		old := l.sessions[existing]
		if !l.staleLocked(old) {
			return domain.CallSession{}, fmt.Errorf("%w: session %s", ErrCallInFlight, existing)
		}
		l.finalizeStaleLocked(old)
	}

	s := &domain.CallSession{
		ID:        domain.SessionID(uuid.NewString()),
		Caller:    caller,
		Callee:    domain.Party{ID: calleeID, Profile: callee.Profile},
		Kind:      kind,
		State:     domain.StatePending,
		CreatedAt: l.now(),
	}
	l.sessions[s.ID] = s
	l.live[key] = s.ID
	ep := endpoints{callee: callee.Conn.ID()}
	if e, ok := l.presence.Lookup(caller.ID); ok {
		ep.caller = e.Conn.ID()
	}
	l.endpoints[s.ID] = ep
	l.journal.create(domain.NewCallRecord(s))

	log.Info().Str("module", "app.ledger").Str("session", string(s.ID)).Str("caller", string(caller.ID)).Str("callee", string(calleeID)).Str("kind", string(kind)).Msg("opened")
	return *s, nil
}

// Accept moves a pending session to active. The talk clock restarts at
// acceptance, so ResolvedAt becomes the start time.
func (l *Ledger) Accept(actor domain.UserID, id domain.SessionID) (domain.CallSession, error) {
	return l.transition(id, actor, roleCallee, domain.StateActive)
}

func (l *Ledger) Reject(actor domain.UserID, id domain.SessionID) (domain.CallSession, error) {
	return l.transition(id, actor, roleCallee, domain.StateRejected)
}

func (l *Ledger) Cancel(actor domain.UserID, id domain.SessionID) (domain.CallSession, error) {
	return l.transition(id, actor, roleCaller, domain.StateCanceled)
}

func (l *Ledger) MarkMissed(id domain.SessionID) (domain.CallSession, error) {
	return l.transition(id, "", roleSystem, domain.StateMissed)
}

// End finishes an active session. A pending session only gets its end
// time stamped in the call log; it gives up its pair and can no longer be
// accepted, and the next sweep marks it missed. Terminal sessions are left
// alone.
func (l *Ledger) End(actor domain.UserID, id domain.SessionID) (domain.CallSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok {
		return domain.CallSession{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if actor != "" && !s.Involves(actor) {
		return *s, fmt.Errorf("%w: %s in %s", ErrNotParticipant, actor, id)
	}
	switch s.State {
	case domain.StateActive:
		return l.resolveLocked(s, domain.StateEnded), nil
	case domain.StatePending:
		if _, done := l.hungUp[id]; done {
			return *s, fmt.Errorf("%w: %s already hung up", ErrInvalidTransition, id)
		}
		now := l.now()
		l.journal.update(id, domain.CallUpdate{EndTime: &now})
		l.hungUp[id] = struct{}{}
		l.releaseLocked(s)
		return *s, fmt.Errorf("%w: end on pending session %s, end time stamped", ErrInvalidTransition, id)
	default:
		return *s, fmt.Errorf("%w: %s already %s", ErrInvalidTransition, id, s.State)
	}
}

// Get returns a copy of the session if it is still held in memory.
func (l *Ledger) Get(id domain.SessionID) (domain.CallSession, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	if !ok {
		return domain.CallSession{}, false
	}
	return *s, true
}

// Len reports sessions currently held, terminal ones included.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// History delegates to the call log. limit <= 0 means the default.
func (l *Ledger) History(ctx context.Context, uid domain.UserID, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return l.store.History(ctx, uid, limit)
}

type SweepResult struct {
	Missed []domain.CallSession
	// Ended are active sessions that lost a party without an end-call.
	Ended   []domain.CallSession
	Evicted int
}

func (r SweepResult) Changed() bool {
	return len(r.Missed) > 0 || len(r.Ended) > 0 || r.Evicted > 0
}

// Sweep finalizes sessions that can no longer progress and evicts
// terminal sessions past retention. A party counts as gone when it is
// offline or has re-announced on another connection.
func (l *Ledger) Sweep(now time.Time) SweepResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	var res SweepResult
	for id, s := range l.sessions {
		switch {
		case s.State == domain.StatePending:
			_, hungUp := l.hungUp[id]
			orphaned := l.staleLocked(s)
			expired := l.cfg.RingTimeout > 0 && now.Sub(s.CreatedAt) > l.cfg.RingTimeout
			if hungUp || orphaned || expired {
				res.Missed = append(res.Missed, l.resolveLocked(s, domain.StateMissed))
				log.Info().Str("module", "app.ledger").Str("session", string(id)).Bool("hung_up", hungUp).Bool("orphaned", orphaned).Bool("expired", expired).Msg("swept to missed")
			}
		case s.State == domain.StateActive:
			if l.staleLocked(s) {
				res.Ended = append(res.Ended, l.resolveLocked(s, domain.StateEnded))
				log.Info().Str("module", "app.ledger").Str("session", string(id)).Msg("swept to ended")
			}
		case s.State.Terminal():
			if now.Sub(s.ResolvedAt) >= l.cfg.Retention {
				delete(l.sessions, id)
				res.Evicted++
			}
		}
	}
	return res
}

// Shutdown marks every pending session missed and flushes the journal.
// Active sessions keep their accepted record.
func (l *Ledger) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	for _, s := range l.sessions {
		if s.State == domain.StatePending {
			l.resolveLocked(s, domain.StateMissed)
		}
	}
	l.mu.Unlock()
	return l.journal.drain(ctx)
}

type role int

const (
	roleSystem role = iota
	roleCaller
	roleCallee
)

func (l *Ledger) transition(id domain.SessionID, actor domain.UserID, r role, to domain.CallState) (domain.CallSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sessions[id]
	if !ok {
		return domain.CallSession{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	switch {
	case r == roleCaller && actor != s.Caller.ID,
		r == roleCallee && actor != s.Callee.ID:
		return *s, fmt.Errorf("%w: %s in %s", ErrNotParticipant, actor, id)
	}
	if s.State != domain.StatePending {
		return *s, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, s.State, to)
	}
	if _, done := l.hungUp[id]; done && to == domain.StateActive {
		return *s, fmt.Errorf("%w: %s was hung up before answer", ErrInvalidTransition, id)
	}
	if to == domain.StateActive {
		if e, ok := l.presence.Lookup(actor); ok {
			ep := l.endpoints[id]
			ep.callee = e.Conn.ID()
			l.endpoints[id] = ep
		}
	}
	return l.resolveLocked(s, to), nil
}

// staleLocked reports whether either party of a live session is offline
// or now reachable only through a different connection.
func (l *Ledger) staleLocked(s *domain.CallSession) bool {
	ep := l.endpoints[s.ID]
	return gone(l.presence, s.Caller.ID, ep.caller) || gone(l.presence, s.Callee.ID, ep.callee)
}

func gone(p PresenceLookup, uid domain.UserID, conn core.ConnID) bool {
	e, ok := p.Lookup(uid)
	if !ok {
		return true
	}
	return conn != "" && e.Conn != nil && e.Conn.ID() != conn
}

// finalizeStaleLocked closes a live session whose party went away so the
// pair can call again.
func (l *Ledger) finalizeStaleLocked(s *domain.CallSession) {
	to := domain.StateMissed
	if s.State == domain.StateActive {
		to = domain.StateEnded
	}
	log.Info().Str("module", "app.ledger").Str("session", string(s.ID)).Str("state", string(s.State)).Msg("stale session superseded")
	l.resolveLocked(s, to)
}

// releaseLocked frees the pair slot if s still holds it.
func (l *Ledger) releaseLocked(s *domain.CallSession) {
	key := newPairKey(s.Caller.ID, s.Callee.ID)
	if l.live[key] == s.ID {
		delete(l.live, key)
	}
}

// resolveLocked applies a legal transition and journals it.
func (l *Ledger) resolveLocked(s *domain.CallSession, to domain.CallState) domain.CallSession {
	now := l.now()
	if !now.After(s.CreatedAt) {
		now = s.CreatedAt.Add(time.Nanosecond)
	}
	if !s.ResolvedAt.IsZero() && !now.After(s.ResolvedAt) {
		now = s.ResolvedAt.Add(time.Nanosecond)
	}
	from := s.State
	s.State = to
	s.ResolvedAt = now

	status := to.Status()
	upd := domain.CallUpdate{Status: &status}
	switch {
	case to == domain.StateActive:
		upd.StartTime = &now
	case to.Terminal():
		// A hung-up session keeps the end time stamped by its end-call.
		if _, done := l.hungUp[s.ID]; !done {
			upd.EndTime = &now
		}
		delete(l.hungUp, s.ID)
		delete(l.endpoints, s.ID)
		l.releaseLocked(s)
	}
	l.journal.update(s.ID, upd)

	log.Info().Str("module", "app.ledger").Str("session", string(s.ID)).Str("from", string(from)).Str("to", string(to)).Msg("transition")
	return *s
}
