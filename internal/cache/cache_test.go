package cache

import (
	"testing"
	"time"

	"cutpro/internal/core"
)

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a becomes most recent
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_TTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	c.Set("other", "v")
	now = now.Add(30 * time.Second)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after expiry")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSummaryCache_Invalidate(t *testing.T) {
	sc := NewSummaryCache(10, time.Minute)
	sc.Set("owner-1", core.Summary{XP: 10})
	sc.Set("owner-2", core.Summary{XP: 35})

	sc.Invalidate("owner-1")

	if _, ok := sc.Get("owner-1"); ok {
		t.Error("owner-1 should be invalidated")
	}
	if s, ok := sc.Get("owner-2"); !ok || s.XP != 35 {
		t.Errorf("owner-2 = %+v, %v", s, ok)
	}
}

func TestSummaryCache_SetIfCurrent(t *testing.T) {
	sc := NewSummaryCache(10, time.Minute)

	epoch := sc.Epoch()
	sc.Invalidate("owner-1")
	if sc.SetIfCurrent("owner-1", epoch, core.Summary{XP: 10}) {
		t.Fatal("a summary loaded before an invalidation must not be stored")
	}
	if _, ok := sc.Get("owner-1"); ok {
		t.Fatal("stale summary cached")
	}

	epoch = sc.Epoch()
	if !sc.SetIfCurrent("owner-1", epoch, core.Summary{XP: 20}) {
		t.Fatal("expected store with current epoch")
	}
	if s, ok := sc.Get("owner-1"); !ok || s.XP != 20 {
		t.Errorf("owner-1 = %+v, %v", s, ok)
	}
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager()
	m.Register(NewSummaryCache(1, time.Millisecond))
	m.StartCleanup(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Stop()
	m.Stop()

	// never started
	NewManager().Stop()
}
