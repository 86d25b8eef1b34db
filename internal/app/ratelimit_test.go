package app

import (
	"context"
	"testing"
	"time"
)

func TestAccountLimiter_SharedBucketPerAccount(t *testing.T) {
	// 1 req/s, burst 1 : la deuxième requête du même compte doit attendre.
	l := NewAccountLimiter(1, 1)
	ctx := context.Background()

	if err := l.Wait(ctx, "a1"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctxShort, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctxShort, "a1"); err == nil {
		t.Fatalf("second request on the same account should have been throttled")
	}

	// Un autre compte a son propre seau.
	if err := l.Wait(ctx, "a2"); err != nil {
		t.Fatalf("other account should not be throttled: %v", err)
	}
}

func TestAccountLimiter_SetRateAppliesToExistingBuckets(t *testing.T) {
	l := NewAccountLimiter(1, 1)
	ctx := context.Background()

	if err := l.Wait(ctx, "a1"); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Débit large : la requête suivante passe tout de suite.
	l.SetRate(1000, 1000)
	ctxShort, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctxShort, "a1"); err != nil {
		t.Fatalf("Wait after SetRate: %v", err)
	}
}

func TestAccountLimiter_Evict(t *testing.T) {
	l := NewAccountLimiter(1, 1)
	_ = l.Wait(context.Background(), "a1")

	l.Evict(0)
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected buckets evicted, got %d", n)
	}
}
