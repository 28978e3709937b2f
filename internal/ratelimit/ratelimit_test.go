package ratelimit

import (
	"testing"
	"time"
)

func TestMemoryBackend_AllowsUpToLimit(t *testing.T) {
	b := NewMemoryBackend()
	for i := 0; i < 5; i++ {
		allowed, _ := b.Allow("attest", "key-1", 5, time.Minute)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	allowed, retryAfter := b.Allow("attest", "key-1", 5, time.Minute)
	if allowed {
		t.Fatal("6th request should be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %v", retryAfter)
	}
}

func TestMemoryBackend_ResetsAfterWindow(t *testing.T) {
	b := NewMemoryBackend()
	b.Allow("attest", "key-1", 2, 50*time.Millisecond)
	b.Allow("attest", "key-1", 2, 50*time.Millisecond)
	if allowed, _ := b.Allow("attest", "key-1", 2, 50*time.Millisecond); allowed {
		t.Fatal("3rd request within window should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if allowed, _ := b.Allow("attest", "key-1", 2, 50*time.Millisecond); !allowed {
		t.Fatal("after window reset should be allowed")
	}
}

func TestMemoryBackend_KeysAreIsolatedByActionAndKey(t *testing.T) {
	b := NewMemoryBackend()
	b.Allow("attest", "key-1", 1, time.Minute)
	if allowed, _ := b.Allow("attest", "key-2", 1, time.Minute); !allowed {
		t.Fatal("a different key must not share the first key's budget")
	}
	if allowed, _ := b.Allow("revoke", "key-1", 1, time.Minute); !allowed {
		t.Fatal("a different action must not share the first action's budget")
	}
}

func TestLimiter_AppliesConfiguredRulePerAction(t *testing.T) {
	l := New(NewMemoryBackend(), map[string]Rule{"attest": {Limit: 1, Window: time.Minute}})

	if allowed, _ := l.Allow("attest", "pubkey-1"); !allowed {
		t.Fatal("first attest should be allowed")
	}
	if allowed, _ := l.Allow("attest", "pubkey-1"); allowed {
		t.Fatal("second attest within window should be denied")
	}
}

func TestLimiter_UnconfiguredActionIsUnlimited(t *testing.T) {
	l := New(NewMemoryBackend(), map[string]Rule{})
	for i := 0; i < 100; i++ {
		if allowed, _ := l.Allow("list_agents", "any-key"); !allowed {
			t.Fatalf("unconfigured action should never be rate-limited (request %d)", i)
		}
	}
}

func TestDefaultRules_CoverWriteActionsAtOnePerMinute(t *testing.T) {
	rules := DefaultRules()
	for _, action := range []string{"attest", "revoke", "dispute", "ownership_claim", "integrity_check"} {
		rule, ok := rules[action]
		if !ok {
			t.Fatalf("expected a default rule for %q", action)
		}
		if rule.Limit != 1 || rule.Window != time.Minute {
			t.Fatalf("expected 1/60s for %q, got %+v", action, rule)
		}
	}
}
