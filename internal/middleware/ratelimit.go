// Package middleware provides HTTP middleware for the API server
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alarmvault/alarmvault/internal/config"
)

// RateLimitConfig configures the per-client rate limiter
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per client IP
	RequestsPerSecond float64
	// BurstSize is the maximum burst per client IP
	BurstSize int
	// CleanupInterval is how often idle limiters are swept
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter survives
	MaxAge time.Duration
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   time.Minute,
		MaxAge:            5 * time.Minute,
	}
}

// RateLimitFromAPI builds a limiter config from the api section,
// falling back to defaults for unset fields.
func RateLimitFromAPI(api config.APIConfig) *RateLimitConfig {
	cfg := DefaultRateLimitConfig()
	if api.RatePerSecond > 0 {
		cfg.RequestsPerSecond = api.RatePerSecond
	}
	if api.RateBurst > 0 {
		cfg.BurstSize = api.RateBurst
	}
	return cfg
}

// ipLimiter holds a rate limiter and last access time for one client
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-IP rate limiting
type RateLimiter struct {
	config   *RateLimitConfig
	limiters map[string]*ipLimiter
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its idle sweep
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	rl := &RateLimiter{
		config:   config,
		limiters: make(map[string]*ipLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if il, exists := rl.limiters[ip]; exists {
		il.lastSeen = time.Now()
		return il.limiter
	}

	limiter := rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize)
	rl.limiters[ip] = &ipLimiter{
		limiter:  limiter,
		lastSeen: time.Now(),
	}
	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.MaxAge)
	for ip, il := range rl.limiters {
		if il.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// Stop stops the idle sweep goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware enforces the per-IP limit, answering 429 when exceeded
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.getLimiter(clientIP(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client IP, honoring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
