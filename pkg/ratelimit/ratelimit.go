// Package ratelimit holds the in-memory limiters used by the HTTP and
// WebSocket layers. It depends on no other package of the module.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type bucket struct {
	count       int
	windowStart time.Time
}

// AuthFailureLimiter throttles token guessing per client IP. Failed
// authentications are counted in a fixed window; once maxFailures is
// reached the IP is refused until the window expires.
//
//	if limiter.Blocked(ip) { reject }
//	if !authenticated { limiter.Fail(ip) } else { limiter.Reset(ip) }
type AuthFailureLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	maxFailures int
	window      time.Duration
	now         func() time.Time

	stopOnce    sync.Once
	stopCleanup chan struct{}
}

// NewAuthFailureLimiter starts the background cleanup goroutine.
func NewAuthFailureLimiter(maxFailures int, window time.Duration) *AuthFailureLimiter {
	rl := &AuthFailureLimiter{
		buckets:     make(map[string]*bucket),
		maxFailures: maxFailures,
		window:      window,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Blocked reports whether ip has exhausted its failures for the window.
func (rl *AuthFailureLimiter) Blocked(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		return false
	}
	if rl.now().Sub(b.windowStart) > rl.window {
		delete(rl.buckets, ip)
		return false
	}
	return b.count >= rl.maxFailures
}

// Fail records a failed authentication from ip.
func (rl *AuthFailureLimiter) Fail(ip string) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok || now.Sub(b.windowStart) > rl.window {
		rl.buckets[ip] = &bucket{count: 1, windowStart: now}
		return
	}
	b.count++
}

// Reset forgets ip after a successful authentication.
func (rl *AuthFailureLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, ip)
}

// Close stops the cleanup goroutine.
func (rl *AuthFailureLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *AuthFailureLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *AuthFailureLimiter) cleanup() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, b := range rl.buckets {
		if now.Sub(b.windowStart) > rl.window {
			delete(rl.buckets, ip)
		}
	}
}

// ExtractIP returns the client IP, honouring X-Forwarded-For and X-Real-IP
// set by a reverse proxy.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
