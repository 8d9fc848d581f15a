package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStateStatus(t *testing.T) {
	tests := []struct {
		state    CallState
		terminal bool
		status   CallStatus
	}{
		{StatePending, false, StatusMissed},
		{StateActive, false, StatusAccepted},
		{StateEnded, true, StatusAccepted},
		{StateRejected, true, StatusRejected},
		{StateCanceled, true, StatusCanceled},
		{StateMissed, true, StatusMissed},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
			assert.Equal(t, tt.status, tt.state.Status())
		})
	}
}

func TestSessionParties(t *testing.T) {
	s := &CallSession{Caller: Party{ID: "alice"}, Callee: Party{ID: "bob"}}
	assert.True(t, s.Involves("alice"))
	assert.False(t, s.Involves("carol"))
	assert.Equal(t, UserID("bob"), s.Peer("alice"))
	assert.Equal(t, UserID("alice"), s.Peer("bob"))
}

func TestParseUserID(t *testing.T) {
	uid, err := ParseUserID("  alice ")
	require.NoError(t, err)
	assert.Equal(t, UserID("alice"), uid)

	_, err = ParseUserID(" ")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
	_, err = ParseUserID(strings.Repeat("x", MaxUserIDLen+1))
	assert.ErrorIs(t, err, ErrUserIDTooLong)

	assert.ErrorIs(t, Profile{Name: strings.Repeat("n", MaxUsernameLen+1)}.Validate(), ErrUsernameTooLong)
	assert.NoError(t, Profile{Name: "Alice"}.Validate())
}

func TestCallSessionJSONOmitsUnresolvedTime(t *testing.T) {
	s := CallSession{ID: "s1", Caller: Party{ID: "alice"}, Callee: Party{ID: "bob"}, Kind: CallAudio, State: StatePending, CreatedAt: time.Now()}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "resolvedAt")

	s.ResolvedAt = s.CreatedAt.Add(time.Second)
	data, err = json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resolvedAt"`)
}
