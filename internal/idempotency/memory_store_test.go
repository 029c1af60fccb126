package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryStorePutIfAbsentIsExclusive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.PutIfAbsent(ctx, "k", Record{State: StatePending}, time.Minute)
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one reservation, got %d", winners)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := store.PutIfAbsent(ctx, "k", Record{Fingerprint: "a"}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected record before expiry")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected record to expire")
	}
	ok, _ := store.PutIfAbsent(ctx, "k", Record{Fingerprint: "b"}, time.Minute)
	if !ok {
		t.Fatalf("expected key to be reusable after expiry")
	}
}

func TestFingerprintDistinguishesPayloads(t *testing.T) {
	a, err := Fingerprint("close", []string{"t1"}, map[string]string{"note": "x"})
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, _ := Fingerprint("close", []string{"t1"}, map[string]string{"note": "y"})
	c, _ := Fingerprint("close", []string{"t1"}, map[string]string{"note": "x"})
	if a == b {
		t.Fatalf("different payloads share a fingerprint")
	}
	if a != c {
		t.Fatalf("same payload produced different fingerprints")
	}
}
