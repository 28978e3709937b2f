// Package ratelimit implements the fixed-window request limiter the router
// applies per write-endpoint class. It generalizes the single-entity
// fixed-window counter into a pluggable Backend keyed by (action, key) so
// an external shared store can back it in a multi-instance deployment.
package ratelimit

import (
	"sync"
	"time"
)

// Backend is the pluggable rate-limit store. Allow reports whether the
// request at key (scoped to action) is within limit for the trailing
// window, and — when it is not — how long the caller should wait before
// retrying.
type Backend interface {
	Allow(action, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration)
}

// visitor tracks request counts within the current window for one
// (action, key) pair.
type visitor struct {
	count       int
	windowStart time.Time
}

// MemoryBackend is the default single-instance Backend: an in-process map
// of fixed-window counters with a background cleanup goroutine.
type MemoryBackend struct {
	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewMemoryBackend starts a MemoryBackend and its background goroutine,
// which evicts stale entries every minute so the map does not grow
// unbounded across the lifetime of the process.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{visitors: make(map[string]*visitor)}
	go b.evictLoop()
	return b
}

func (b *MemoryBackend) evictLoop() {
	for {
		time.Sleep(time.Minute)
		b.cleanup()
	}
}

func (b *MemoryBackend) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	for k, v := range b.visitors {
		if now.Sub(v.windowStart) > time.Hour {
			delete(b.visitors, k)
		}
	}
}

// Allow implements Backend.
func (b *MemoryBackend) Allow(action, key string, limit int, window time.Duration) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	k := action + "\x00" + key
	v, exists := b.visitors[k]
	if !exists || now.Sub(v.windowStart) > window {
		b.visitors[k] = &visitor{count: 1, windowStart: now}
		return true, 0
	}
	v.count++
	if v.count <= limit {
		return true, 0
	}
	retryAfter := window - now.Sub(v.windowStart)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Rule pairs an endpoint class's window and limit, keyed by action.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Limiter applies a fixed table of per-action rules against a Backend.
type Limiter struct {
	backend Backend
	rules   map[string]Rule
}

// New constructs a Limiter backed by backend, applying rules per action.
// An action with no rule is unlimited.
func New(backend Backend, rules map[string]Rule) *Limiter {
	return &Limiter{backend: backend, rules: rules}
}

// Allow checks whether action/key is within its configured limit. Actions
// with no configured rule are always allowed (the "all GETs unlimited"
// default).
func (l *Limiter) Allow(action, key string) (allowed bool, retryAfter time.Duration) {
	rule, ok := l.rules[action]
	if !ok {
		return true, 0
	}
	return l.backend.Allow(action, key, rule.Limit, rule.Window)
}

// DefaultRules is the endpoint-class table: 1 request per 60-second window
// for every write action, keyed by submitter pubkey or source IP depending
// on the action (the router supplies the key; the limiter only enforces
// limit/window per action).
func DefaultRules() map[string]Rule {
	window := 60 * time.Second
	actions := []string{
		"register_unsigned",
		"attest", "revoke", "dispute",
		"ownership_claim", "ownership_confirm", "ownership_revoke",
		"integrity_set_baseline", "integrity_check",
		"taxonomy_propose_domain", "taxonomy_propose_skill",
		"taxonomy_delete_domain", "taxonomy_delete_skill",
		"contact_email",
	}
	rules := make(map[string]Rule, len(actions))
	for _, a := range actions {
		rules[a] = Rule{Limit: 1, Window: window}
	}
	return rules
}
