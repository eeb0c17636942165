package cache

import (
	"context"
	"slices"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("expected miss")
	}
	if err := m.Set(ctx, "k", []byte("v"), time.Minute, TagEvents); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v" {
		t.Errorf("Get = %q, %v, %v", v, ok, err)
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(59 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Error("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
}

func TestMemoryInvalidateByTag(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "events", []byte("list"), 0, TagEvents)
	m.Set(ctx, "details:7", []byte("d7"), 0, EventTag(7), DetailsTag(7))
	m.Set(ctx, "details:8", []byte("d8"), 0, EventTag(8), DetailsTag(8))
	m.Set(ctx, "title:x", []byte("t"), 0, TagTitles)

	n, err := m.Invalidate(ctx, EventTags(7)...)
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}
	for key, want := range map[string]bool{"events": false, "details:7": false, "details:8": true, "title:x": true} {
		if _, ok, _ := m.Get(ctx, key); ok != want {
			t.Errorf("%s present = %v, want %v", key, ok, want)
		}
	}

	if err := m.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if _, ok, _ := m.Get(ctx, "title:x"); ok {
		t.Error("InvalidateAll left entries behind")
	}
}

func TestMemoryOverwriteDropsOldTags(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", []byte("old"), 0, "a")
	m.Set(ctx, "k", []byte("new"), 0, "b")

	if n, _ := m.Invalidate(ctx, "a"); n != 0 {
		t.Errorf("stale tag removed %d entries", n)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || string(v) != "new" {
		t.Errorf("Get = %q, %v", v, ok)
	}
}

func TestEventTags(t *testing.T) {
	want := []string{"events", "event-42", "event-details-42", "event-updates-42"}
	if got := EventTags(42); !slices.Equal(got, want) {
		t.Errorf("EventTags = %v, want %v", got, want)
	}
}
