package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing key")
	}
	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected key deleted")
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Errorf("deleting a missing key must not fail: %v", err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(clock.Now)

	s.Set(ctx, "lock", "a", GlobalLockTTL)
	clock.Advance(59 * time.Second)
	if _, ok, _ := s.Get(ctx, "lock"); !ok {
		t.Fatal("expected lock alive before TTL")
	}
	clock.Advance(time.Second)
	if _, ok, _ := s.Get(ctx, "lock"); ok {
		t.Fatal("expected lock expired at TTL")
	}

	won, _ := s.SetIfAbsent(ctx, "lock", "b", GlobalLockTTL)
	if !won {
		t.Error("expected SetIfAbsent to win once the previous holder expired")
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 live key, got %d", s.Len())
	}
}

func TestMemoryStore_SetIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.SetIfAbsent(ctx, "dedupe:tg:update:1", "1", DedupeTTL); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestMemoryStore_DeleteIfValue(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(clock.Now)

	s.SetIfAbsent(ctx, "lock", "a", GlobalLockTTL)
	clock.Advance(GlobalLockTTL)
	if ok, _ := s.DeleteIfValue(ctx, "lock", "a"); ok {
		t.Error("expired value must not be deleted as live")
	}
	s.SetIfAbsent(ctx, "lock", "b", GlobalLockTTL)
	if ok, _ := s.DeleteIfValue(ctx, "lock", "a"); ok {
		t.Error("deleted another owner's value")
	}
	if v, ok, _ := s.Get(ctx, "lock"); !ok || v != "b" {
		t.Fatalf("Get = %q %v", v, ok)
	}
	if ok, _ := s.DeleteIfValue(ctx, "lock", "b"); !ok {
		t.Error("owner could not delete")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d", s.Len())
	}
}
