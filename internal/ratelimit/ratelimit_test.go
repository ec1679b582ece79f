package ratelimit

import (
	"errors"
	"testing"
)

func TestUnlimitedByDefault(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("entity-1"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestBurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("entity-1"); err != nil {
			t.Fatalf("request %d within burst rejected: %v", i, err)
		}
	}
	if err := l.Allow("entity-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestIdentitiesIsolated(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("entity-1"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Allow("entity-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for exhausted identity, got %v", err)
	}
	// A different identity has its own bucket.
	if err := l.Allow("entity-2"); err != nil {
		t.Fatalf("unrelated identity was rejected: %v", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("entity-1"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Allow("entity-1"); err != nil {
		t.Fatalf("second request rejected: %v", err)
	}
	if err := l.Allow("entity-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
