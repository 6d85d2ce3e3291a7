package devotp

import (
	"context"
	"sync"
	"testing"
	"time"

	"asset-register/backend/internal/mfa"
)

func TestMemoryStore_DeliverThenGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Deliver(ctx, mfa.Delivery{ChallengeID: "c1", Code: "123456", ExpiresAt: time.Now().Add(5 * time.Minute)}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	code, ok := store.Get(ctx, "c1")
	if !ok || code != "123456" {
		t.Errorf("Get = %q, %v", code, ok)
	}
	if _, ok := store.Get(ctx, "missing"); ok {
		t.Error("Get of unknown challenge should miss")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Now()
	store := NewMemoryStore()
	store.nowF = func() time.Time { return now }
	ctx := context.Background()
	_ = store.Deliver(ctx, mfa.Delivery{ChallengeID: "c1", Code: "111111", ExpiresAt: now.Add(time.Minute)})
	_ = store.Deliver(ctx, mfa.Delivery{ChallengeID: "c2", Code: "222222", ExpiresAt: now.Add(time.Hour)})

	now = now.Add(2 * time.Minute)
	if _, ok := store.Get(ctx, "c1"); ok {
		t.Error("expired code returned")
	}
	_ = store.Deliver(ctx, mfa.Delivery{ChallengeID: "c3", Code: "333333", ExpiresAt: now.Add(time.Minute)})
	store.mu.RLock()
	n := len(store.m)
	store.mu.RUnlock()
	if n != 2 {
		t.Errorf("entries = %d, want 2 after eviction", n)
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = store.Deliver(ctx, mfa.Delivery{ChallengeID: id, Code: "000000", ExpiresAt: exp})
			store.Get(ctx, id)
		}(i)
	}
	wg.Wait()
}
