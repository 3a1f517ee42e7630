package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New[string, string](time.Hour).WithClock(func() time.Time { return now })

	if !c.IsExpired() {
		t.Fatal("new cache should be expired")
	}
	c.SetAll(map[string]string{"ar.alafasy": "Alafasy"})
	if v, ok := c.Get("ar.alafasy"); !ok || v != "Alafasy" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	now = now.Add(time.Hour)
	if _, ok := c.Get("ar.alafasy"); ok {
		t.Error("Get() after TTL should miss")
	}
	if c.GetAll() != nil {
		t.Error("GetAll() after TTL should be nil")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, stale entries are still counted", c.Len())
	}
	c.Invalidate()
	if c.Len() != 0 {
		t.Errorf("Len() after Invalidate = %d", c.Len())
	}
}

func TestTTLCacheLoad(t *testing.T) {
	c := New[string, int](time.Minute)
	calls := 0
	fetch := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"a": 1}, nil
	}
	for range 3 {
		got, err := c.Load(context.Background(), fetch)
		if err != nil || got["a"] != 1 {
			t.Fatalf("Load() = %v, %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}

	c.Invalidate()
	boom := errors.New("offline")
	if _, err := c.Load(context.Background(), func(context.Context) (map[string]int, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Errorf("Load() error = %v", err)
	}
}

func TestTTLCacheGetAllCopies(t *testing.T) {
	c := New[int, int](time.Hour)
	c.SetAll(map[int]int{1: 1})
	all := c.GetAll()
	all[2] = 2
	if _, ok := c.Get(2); ok {
		t.Error("mutating GetAll() result leaked into cache")
	}
}
