package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	if err := s.Put(ctx, "otp:user:9876543210", OTPRecord{Hash: "h"}, 5*time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, found, _ := s.Get(ctx, "otp:user:9876543210"); !found {
		t.Fatal("expected record before expiry")
	}

	now = now.Add(5 * time.Minute)
	if _, found, _ := s.Get(ctx, "otp:user:9876543210"); found {
		t.Error("expected record to expire after its TTL")
	}
}

func TestMemoryStoreAttempts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	if n, _ := s.IncrAttempts(ctx, "k"); n != 0 {
		t.Errorf("missing record: expected 0, got %d", n)
	}

	_ = s.Put(ctx, "k", OTPRecord{Hash: "h"}, time.Minute)
	for want := 1; want <= 3; want++ {
		if n, _ := s.IncrAttempts(ctx, "k"); n != want {
			t.Fatalf("attempt %d: got %d", want, n)
		}
	}

	_ = s.Put(ctx, "k", OTPRecord{Hash: "h2"}, time.Minute)
	if n, _ := s.IncrAttempts(ctx, "k"); n != 1 {
		t.Errorf("a fresh code must reset the count, got %d", n)
	}

	now = now.Add(time.Minute)
	if n, _ := s.IncrAttempts(ctx, "k"); n != 0 {
		t.Errorf("expired record: expected 0, got %d", n)
	}
}

func TestMemoryStoreAttemptsConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, "k", OTPRecord{Hash: "h"}, time.Minute)

	var wg sync.WaitGroup
	seen := make([]bool, 101)
	var mu sync.Mutex
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, _ := s.IncrAttempts(ctx, "k")
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for n := 1; n <= 100; n++ {
		if !seen[n] {
			t.Fatalf("count %d was never handed out", n)
		}
	}
}

func TestMemoryStoreTakeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, "k", OTPRecord{Hash: "h"}, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.Take(ctx, "k"); ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if taken != 1 {
		t.Errorf("expected exactly one take, got %d", taken)
	}
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Error("record should be gone after take")
	}
}

func TestMemoryStoreMarks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Mark(ctx, "verified:user:9876543210", time.Minute)

	ok, _ := s.Marked(ctx, "verified:user:9876543210")
	if !ok {
		t.Error("expected mark to be present")
	}
	if _, found, _ := s.Get(ctx, "verified:user:9876543210"); found {
		t.Error("a mark is not an OTP record")
	}
}
