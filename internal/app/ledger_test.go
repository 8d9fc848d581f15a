package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/storage/calllog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var (
	alice = domain.Party{ID: "alice", Profile: domain.Profile{Name: "Alice", Avatar: "a.png"}}
	bob   = domain.Party{ID: "bob", Profile: domain.Profile{Name: "Bob"}}
)

func newTestLedger(t *testing.T, cfg LedgerConfig) (*Ledger, *Presence, *calllog.Memory, *fakeClock) {
	t.Helper()
	p := NewPresence()
	p.Register(alice.ID, &stubConn{id: "conn-alice"}, alice.Profile)
	p.Register(bob.ID, &stubConn{id: "conn-bob"}, bob.Profile)

	store := calllog.NewMemory()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(cfg, p, store)
	l.now = clock.now
	t.Cleanup(func() { _ = l.Shutdown(context.Background()) })
	return l, p, store, clock
}

func eventuallyRecord(t *testing.T, store *calllog.Memory, id domain.SessionID, cond func(domain.CallRecord) bool) domain.CallRecord {
	t.Helper()
	var rec domain.CallRecord
	require.Eventually(t, func() bool {
		r, ok := store.Get(id)
		if !ok {
			return false
		}
		rec = r
		return cond(r)
	}, time.Second, 5*time.Millisecond)
	return rec
}

func TestLedgerOpenRequiresPresentCallee(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	_, err := l.Open(alice, "carol", domain.CallAudio)
	require.ErrorIs(t, err, ErrTargetUnreachable)
	assert.Zero(t, l.Len())
}

func TestLedgerOpenRejectsInvalidCalls(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	_, err := l.Open(alice, alice.ID, domain.CallAudio)
	require.ErrorIs(t, err, ErrInvalidCall)

	_, err = l.Open(alice, bob.ID, domain.CallKind("hologram"))
	require.ErrorIs(t, err, ErrInvalidCall)
	assert.Zero(t, l.Len())
}

func TestLedgerOpenCreatesPendingSession(t *testing.T) {
	l, _, store, clock := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallVideo)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, domain.StatePending, s.State)
	assert.Equal(t, clock.t, s.CreatedAt)
	assert.Equal(t, "Bob", s.Callee.Profile.Name, "callee profile comes from presence")

	rec := eventuallyRecord(t, store, s.ID, func(domain.CallRecord) bool { return true })
	assert.Equal(t, domain.StatusMissed, rec.Status)
	assert.Equal(t, "Alice", rec.CallerName)
	assert.Equal(t, "a.png", rec.CallerAvatar)
	assert.Equal(t, domain.CallVideo, rec.Kind)
	assert.Nil(t, rec.EndTime)
}

func TestLedgerSingleCallPerPair(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	_, err = l.Open(bob, alice.ID, domain.CallAudio)
	require.ErrorIs(t, err, ErrCallInFlight)

	_, err = l.Reject(bob.ID, s.ID)
	require.NoError(t, err)

	_, err = l.Open(bob, alice.ID, domain.CallAudio)
	require.NoError(t, err)
}

func TestLedgerAcceptThenEnd(t *testing.T) {
	l, _, store, clock := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	_, err = l.Accept(alice.ID, s.ID)
	require.ErrorIs(t, err, ErrNotParticipant, "only the callee may accept")

	clock.advance(3 * time.Second)
	accepted, err := l.Accept(bob.ID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, accepted.State)
	assert.Equal(t, clock.t, accepted.ResolvedAt)

	clock.advance(time.Minute)
	ended, err := l.End(alice.ID, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateEnded, ended.State)

	rec := eventuallyRecord(t, store, s.ID, func(r domain.CallRecord) bool { return r.EndTime != nil })
	assert.Equal(t, domain.StatusAccepted, rec.Status)
	assert.Equal(t, accepted.ResolvedAt, rec.StartTime, "start time restarts at acceptance")
	assert.Equal(t, ended.ResolvedAt, *rec.EndTime)
}

func TestLedgerResolvedAtAlwaysAfterCreatedAt(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	// Frozen clock: accept and end happen "at the same instant".
	accepted, err := l.Accept(bob.ID, s.ID)
	require.NoError(t, err)
	assert.True(t, accepted.ResolvedAt.After(accepted.CreatedAt))

	ended, err := l.End(bob.ID, s.ID)
	require.NoError(t, err)
	assert.True(t, ended.ResolvedAt.After(accepted.ResolvedAt))
}

func TestLedgerTerminalStatesAbsorb(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	canceled, err := l.Cancel(alice.ID, s.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCanceled, canceled.State)

	_, err = l.Accept(bob.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = l.Reject(bob.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = l.MarkMissed(s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = l.End(alice.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, ok := l.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateCanceled, got.State)
	assert.Equal(t, canceled.ResolvedAt, got.ResolvedAt)
}

func TestLedgerActorRoles(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	_, err = l.Cancel(bob.ID, s.ID)
	require.ErrorIs(t, err, ErrNotParticipant, "only the caller may cancel")
	_, err = l.Reject(alice.ID, s.ID)
	require.ErrorIs(t, err, ErrNotParticipant, "only the callee may reject")
	_, err = l.End("mallory", s.ID)
	require.ErrorIs(t, err, ErrNotParticipant)

	got, _ := l.Get(s.ID)
	assert.Equal(t, domain.StatePending, got.State)
}

func TestLedgerUnknownSession(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	_, err := l.Accept(bob.ID, "nope")
	require.ErrorIs(t, err, ErrUnknownSession)
	_, err = l.End(bob.ID, "nope")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestLedgerEndOnPendingOnlyStampsEndTime(t *testing.T) {
	l, _, store, clock := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	clock.advance(time.Second)
	hungUpAt := clock.t
	got, err := l.End(alice.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StatePending, got.State)

	rec := eventuallyRecord(t, store, s.ID, func(r domain.CallRecord) bool { return r.EndTime != nil })
	assert.Equal(t, domain.StatusMissed, rec.Status)
	assert.Equal(t, hungUpAt, *rec.EndTime)

	// A second end-call stamps nothing new.
	clock.advance(time.Second)
	_, err = l.End(bob.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = l.Accept(bob.ID, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition, "hung-up call cannot be answered")

	// The next sweep finalizes it without moving the stamped end time.
	res := l.Sweep(clock.t)
	require.Len(t, res.Missed, 1)
	assert.Equal(t, s.ID, res.Missed[0].ID)
	require.NoError(t, l.Shutdown(context.Background()))
	rec, ok := store.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusMissed, rec.Status)
	assert.Equal(t, hungUpAt, *rec.EndTime)
}

func TestLedgerEndOnPendingFreesPair(t *testing.T) {
	l, _, _, _ := newTestLedger(t, LedgerConfig{})

	first, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	_, err = l.End(alice.ID, first.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	second, err := l.Open(bob, alice.ID, domain.CallVideo)
	require.NoError(t, err, "both users online, no sweep in between")

	// Resolving the old session must not release the new one's slot.
	_, err = l.Cancel(alice.ID, first.ID)
	require.NoError(t, err)
	_, err = l.Open(alice, bob.ID, domain.CallAudio)
	require.ErrorIs(t, err, ErrCallInFlight)

	_, err = l.Accept(alice.ID, second.ID)
	require.NoError(t, err)
}

func TestLedgerSweepMarksOrphansMissed(t *testing.T) {
	l, p, store, clock := newTestLedger(t, LedgerConfig{Retention: time.Minute})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	res := l.Sweep(clock.t)
	assert.Empty(t, res.Missed, "both parties online")

	_, _, ok := p.RemoveByConnection("conn-bob")
	require.True(t, ok)

	clock.advance(time.Second)
	res = l.Sweep(clock.t)
	require.Len(t, res.Missed, 1)
	assert.Equal(t, s.ID, res.Missed[0].ID)
	assert.Equal(t, domain.StateMissed, res.Missed[0].State)

	rec := eventuallyRecord(t, store, s.ID, func(r domain.CallRecord) bool { return r.EndTime != nil })
	assert.Equal(t, domain.StatusMissed, rec.Status)

	// Terminal sessions linger until retention passes.
	clock.advance(30 * time.Second)
	assert.Zero(t, l.Sweep(clock.t).Evicted)
	clock.advance(time.Minute)
	assert.Equal(t, 1, l.Sweep(clock.t).Evicted)
	_, ok = l.Get(s.ID)
	assert.False(t, ok)
}

func TestLedgerSweepRingTimeout(t *testing.T) {
	l, _, _, clock := newTestLedger(t, LedgerConfig{RingTimeout: 30 * time.Second, Retention: time.Hour})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	clock.advance(10 * time.Second)
	assert.Empty(t, l.Sweep(clock.t).Missed)

	clock.advance(30 * time.Second)
	res := l.Sweep(clock.t)
	require.Len(t, res.Missed, 1)
	assert.Equal(t, s.ID, res.Missed[0].ID)

	// The pair is free again.
	_, err = l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
}

func TestLedgerSweepKeepsConnectedActiveSessions(t *testing.T) {
	l, _, _, clock := newTestLedger(t, LedgerConfig{RingTimeout: time.Second})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	_, err = l.Accept(bob.ID, s.ID)
	require.NoError(t, err)

	clock.advance(time.Hour)
	res := l.Sweep(clock.t)
	assert.False(t, res.Changed(), "ring timeout only applies to pending calls")

	got, ok := l.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateActive, got.State)
}

func TestLedgerSweepEndsAbandonedActiveSession(t *testing.T) {
	l, p, store, clock := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	_, err = l.Accept(bob.ID, s.ID)
	require.NoError(t, err)

	// Both drop without an end-call.
	p.RemoveByConnection("conn-alice")
	p.RemoveByConnection("conn-bob")

	clock.advance(time.Minute)
	res := l.Sweep(clock.t)
	require.Len(t, res.Ended, 1)
	assert.Equal(t, s.ID, res.Ended[0].ID)
	assert.Equal(t, domain.StateEnded, res.Ended[0].State)
	assert.Empty(t, res.Missed)

	rec := eventuallyRecord(t, store, s.ID, func(r domain.CallRecord) bool { return r.EndTime != nil })
	assert.Equal(t, domain.StatusAccepted, rec.Status)
	assert.Equal(t, clock.t, *rec.EndTime)

	p.Register(alice.ID, &stubConn{id: "conn-alice-2"}, alice.Profile)
	p.Register(bob.ID, &stubConn{id: "conn-bob-2"}, bob.Profile)
	_, err = l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
}

func TestLedgerSweepEndsActiveSessionAfterReconnect(t *testing.T) {
	l, p, _, clock := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	_, err = l.Accept(bob.ID, s.ID)
	require.NoError(t, err)

	// Bob reloads: same user, new connection.
	p.Register(bob.ID, &stubConn{id: "conn-bob-2"}, bob.Profile)

	res := l.Sweep(clock.t)
	require.Len(t, res.Ended, 1)
	assert.Equal(t, s.ID, res.Ended[0].ID)
}

func TestLedgerOpenSupersedesStaleSession(t *testing.T) {
	l, p, _, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)
	_, err = l.Accept(bob.ID, s.ID)
	require.NoError(t, err)

	// Both reconnect before any sweep runs.
	p.Register(alice.ID, &stubConn{id: "conn-alice-2"}, alice.Profile)
	p.Register(bob.ID, &stubConn{id: "conn-bob-2"}, bob.Profile)

	next, err := l.Open(bob, alice.ID, domain.CallAudio)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, next.ID)

	old, ok := l.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StateEnded, old.State)
}

func TestLedgerShutdownFinalizesPending(t *testing.T) {
	l, _, store, _ := newTestLedger(t, LedgerConfig{})

	s, err := l.Open(alice, bob.ID, domain.CallAudio)
	require.NoError(t, err)

	require.NoError(t, l.Shutdown(context.Background()))

	rec, ok := store.Get(s.ID)
	require.True(t, ok, "journal is drained on shutdown")
	assert.Equal(t, domain.StatusMissed, rec.Status)
	require.NotNil(t, rec.EndTime)

	got, _ := l.Get(s.ID)
	assert.Equal(t, domain.StateMissed, got.State)
}

func TestLedgerHistory(t *testing.T) {
	l, _, store, clock := newTestLedger(t, LedgerConfig{})

	var ids []domain.SessionID
	for i := 0; i < 3; i++ {
		s, err := l.Open(alice, bob.ID, domain.CallAudio)
		require.NoError(t, err)
		_, err = l.Reject(bob.ID, s.ID)
		require.NoError(t, err)
		ids = append(ids, s.ID)
		clock.advance(time.Minute)
	}
	eventuallyRecord(t, store, ids[2], func(r domain.CallRecord) bool { return r.Status == domain.StatusRejected })

	recs, err := l.History(context.Background(), bob.ID, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, ids[2], recs[0].SessionID, "newest first")
	assert.Equal(t, ids[1], recs[1].SessionID)

	recs, err = l.History(context.Background(), "carol", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
