package memory

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(entries, bytes int) (*LRUTTL[string, string], *clock) {
	clk := &clock{t: time.Unix(1700000000, 0)}
	c := NewLRUTTL[string, string](entries, bytes, time.Minute)
	c.now = clk.now
	return c, clk
}

func TestLRUTTLExpiresPerEntry(t *testing.T) {
	c, clk := newTestCache(10, 0)
	c.Set("short", "a", 1, 10*time.Second)
	exp, _ := c.Set("long", "b", 1, 0)
	if want := clk.t.Add(time.Minute); !exp.Equal(want) {
		t.Fatalf("default ttl expiry = %v, want %v", exp, want)
	}

	clk.t = clk.t.Add(11 * time.Second)
	if _, _, ok := c.Get("short"); ok {
		t.Fatalf("short entry should have expired")
	}
	if v, _, ok := c.Get("long"); !ok || v != "b" {
		t.Fatalf("long entry = %q %v", v, ok)
	}
}

func TestLRUTTLEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(2, 0)
	c.Set("a", "1", 1, 0)
	c.Set("b", "2", 1, 0)
	if _, _, ok := c.Get("a"); !ok {
		t.Fatalf("a missing")
	}
	c.Set("c", "3", 1, 0)
	if _, _, ok := c.Get("b"); ok {
		t.Fatalf("b should be evicted")
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
}

func TestLRUTTLByteBudget(t *testing.T) {
	c, _ := newTestCache(10, 10)
	c.Set("a", "x", 6, 0)
	c.Set("b", "y", 6, 0)
	if _, _, ok := c.Get("a"); ok {
		t.Fatalf("a should be evicted by byte budget")
	}
	if _, ok := c.Set("huge", "z", 11, 0); ok {
		t.Fatalf("oversized entry must be rejected")
	}
	if _, _, ok := c.Get("b"); !ok {
		t.Fatalf("rejecting an oversized entry must not evict others")
	}
}

func TestLRUTTLNilSafe(t *testing.T) {
	var c *LRUTTL[string, int]
	c.Set("a", 1, 1, 0)
	c.Delete("a")
	if _, _, ok := c.Get("a"); ok || c.Len() != 0 {
		t.Fatalf("nil cache must be empty")
	}
}
