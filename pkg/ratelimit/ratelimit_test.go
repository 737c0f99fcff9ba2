package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time            { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestAuthFailureLimiter(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl := NewAuthFailureLimiter(3, time.Minute)
	defer rl.Close()
	rl.now = clk.now

	const ip = "10.0.0.1"
	for i := 0; i < 3; i++ {
		assert.False(t, rl.Blocked(ip))
		rl.Fail(ip)
	}
	assert.True(t, rl.Blocked(ip))
	assert.False(t, rl.Blocked("10.0.0.2"), "other IPs are unaffected")

	clk.advance(time.Minute + time.Second)
	assert.False(t, rl.Blocked(ip), "window expired")

	rl.Fail(ip)
	rl.Fail(ip)
	rl.Reset(ip)
	rl.Fail(ip)
	assert.False(t, rl.Blocked(ip), "reset clears the count")
}

func TestAuthFailureLimiterCleanup(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl := NewAuthFailureLimiter(3, time.Minute)
	defer rl.Close()
	rl.now = clk.now

	rl.Fail("a")
	clk.advance(2 * time.Minute)
	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.buckets)
}

func TestMessageRateLimiter(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl := NewMessageRateLimiter(2, 5*time.Second, 10*time.Second)
	defer rl.Close()
	rl.now = clk.now

	assert.True(t, rl.Allow(1))
	assert.True(t, rl.Allow(1))
	assert.False(t, rl.Allow(1), "third message in the window starts a cooldown")
	assert.True(t, rl.Allow(2), "limits are per user")

	assert.Greater(t, rl.CooldownSeconds(1), 0)
	assert.Equal(t, 0, rl.CooldownSeconds(2))

	clk.advance(5 * time.Second)
	assert.False(t, rl.Allow(1), "still cooling down")

	clk.advance(6 * time.Second)
	assert.True(t, rl.Allow(1))
	assert.Equal(t, 0, rl.CooldownSeconds(1))
}

func TestMessageRateLimiterWindowReset(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rl := NewMessageRateLimiter(1, time.Second, time.Minute)
	defer rl.Close()
	rl.now = clk.now

	assert.True(t, rl.Allow(7))
	clk.advance(2 * time.Second)
	assert.True(t, rl.Allow(7), "a new window starts after the old one expires")
}

func TestExtractIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ExtractIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ExtractIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ExtractIP(r))
}
