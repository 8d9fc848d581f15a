package signal

import (
	"testing"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestCallRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewCallRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per user")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("alice"))
}

func TestCallRateLimiterForget(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewCallRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	rl.Allow("alice")
	now = now.Add(30 * time.Second)
	rl.Allow("bob")

	now = now.Add(45 * time.Second)
	rl.Forget()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.history, domain.UserID("alice"))
	assert.Contains(t, rl.history, domain.UserID("bob"))
}
