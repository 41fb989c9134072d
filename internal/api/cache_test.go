package api

import (
	"testing"
	"time"
)

func TestChartCache(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	c := NewChartCache(5 * time.Minute)
	c.now = func() time.Time { return now }

	key := newChartKey("GuildA", "Alice", "hourly", "")
	c.Set(key, []byte("png"))

	if data, ok := c.Get(newChartKey("guilda", "ALICE", "hourly", "")); !ok || string(data) != "png" {
		t.Fatalf("Get with folded identity = %q, %v", data, ok)
	}
	if _, ok := c.Get(newChartKey("guilda", "alice", "weekly", "")); ok {
		t.Error("different kind should miss")
	}

	now = now.Add(6 * time.Minute)
	if _, ok := c.Get(key); ok {
		t.Error("expired entry should miss")
	}
}

func TestChartCache_Invalidate(t *testing.T) {
	c := NewChartCache(time.Minute)
	c.Set(newChartKey("d", "o", "hourly", ""), []byte("a"))
	c.Set(newChartKey("d", "o", "weekly", ""), []byte("b"))
	c.Set(newChartKey("d", "other", "hourly", ""), []byte("c"))

	c.Invalidate("D", "O")

	if _, ok := c.Get(newChartKey("d", "o", "hourly", "")); ok {
		t.Error("hourly should be invalidated")
	}
	if _, ok := c.Get(newChartKey("d", "o", "weekly", "")); ok {
		t.Error("weekly should be invalidated")
	}
	if _, ok := c.Get(newChartKey("d", "other", "hourly", "")); !ok {
		t.Error("other identity should be kept")
	}
}

func TestChartCache_Disabled(t *testing.T) {
	c := NewChartCache(0)
	key := newChartKey("d", "o", "hourly", "")
	c.Set(key, []byte("a"))
	if _, ok := c.Get(key); ok {
		t.Error("zero TTL should not cache")
	}
}
