package actioncache

import (
	"testing"
	"time"

	"github.com/brainzlab/vision/internal/domain"
	"github.com/brainzlab/vision/internal/store"
)

func TestURLPatternKeepsHostAndPathStripsQueryAndFragment(t *testing.T) {
	got := URLPattern("https://shop.example.com/checkout?sku=42&ref=ad#top")
	want := "shop.example.com/checkout"
	if got != want {
		t.Fatalf("expected pattern %q, got %q", want, got)
	}
}

func TestInstructionHashIsSixteenHexChars(t *testing.T) {
	h := InstructionHash("click the add to cart button")
	if len(h) != 16 {
		t.Fatalf("expected a 16-char hash, got %q (%d chars)", h, len(h))
	}
	if InstructionHash("") != "" {
		t.Fatalf("expected an empty instruction to hash to empty string")
	}
}

func TestStoreUpsertsAndIncrementsSuccessCount(t *testing.T) {
	c := New(store.New())

	first, err := c.Store("proj1", "https://example.com/cart?id=1", "click", map[string]any{"selector": "#buy"}, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if first.SuccessCount != 1 {
		t.Fatalf("expected success_count 1 on first insert, got %d", first.SuccessCount)
	}

	second, err := c.Store("proj1", "https://example.com/cart?id=2", "click", map[string]any{"selector": "#buy-now"}, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same entry to be reused across distinct queries on the same pattern")
	}
	if second.SuccessCount != 2 {
		t.Fatalf("expected success_count to increment to 2, got %d", second.SuccessCount)
	}
	if second.ActionData["selector"] != "#buy-now" {
		t.Fatalf("expected action_data to be overwritten by the latest store call")
	}
}

func TestBatchStoreAccumulatesGroupSize(t *testing.T) {
	c := New(store.New())

	entries := []Entry{
		{URL: "https://example.com/a?x=1", ActionType: "click", ActionData: map[string]any{"selector": "#a"}},
		{URL: "https://example.com/a?x=2", ActionType: "click", ActionData: map[string]any{"selector": "#a2"}},
		{URL: "https://example.com/b", ActionType: "type", ActionData: map[string]any{"selector": "#b"}},
	}
	result := c.BatchStore("proj1", entries, "")
	if len(result) != 2 {
		t.Fatalf("expected 2 groups (by pattern+action), got %d", len(result))
	}

	foundClickGroup := false
	for _, e := range result {
		if e.ActionType == "click" {
			if e.SuccessCount != 2 {
				t.Fatalf("expected click group success_count 2, got %d", e.SuccessCount)
			}
			foundClickGroup = true
		}
	}
	if !foundClickGroup {
		t.Fatalf("expected a click group in batch result")
	}
}

func TestLookupReturnsReliableEntryOnBothPaths(t *testing.T) {
	st := store.New()
	c := New(st)

	entry, err := c.Store("proj1", "https://example.com/checkout", "click", map[string]any{"selector": "#buy"}, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := c.RecordSuccess(entry.ID, 100); err != nil {
			t.Fatalf("record success: %v", err)
		}
	}

	matches := c.Lookup("proj1", "https://example.com/checkout", "click", "")
	if len(matches) != 1 {
		t.Fatalf("expected one reliable match, got %d", len(matches))
	}

	matches = c.Lookup("proj1", "https://example.com/checkout", "", "")
	if len(matches) != 1 {
		t.Fatalf("expected the pattern-scan path to also find the entry, got %d", len(matches))
	}
}

func TestRecordFailureInvalidatesUnreliableEntry(t *testing.T) {
	c := New(store.New())

	entry, err := c.Store("proj1", "https://example.com/cart", "click", map[string]any{"selector": "#buy"}, "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := c.RecordFailure(entry.ID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	matches := c.Lookup("proj1", "https://example.com/cart", "click", "")
	if len(matches) != 0 {
		t.Fatalf("expected the entry to be invalidated after repeated failures, found %d matches", len(matches))
	}
}

func TestCleanupExpiredDeletesOnlyPastExpiry(t *testing.T) {
	st := store.New()
	c := New(st)

	if _, err := c.Store("proj1", "https://example.com/live", "click", nil, ""); err != nil {
		t.Fatalf("store: %v", err)
	}
	st.PutActionCacheEntry(&domain.ActionCacheEntry{
		ProjectID:  "proj1",
		URLPattern: "/stale",
		ActionType: "click",
		ExpiresAt:  time.Now().Add(-time.Hour),
	})

	removed := c.CleanupExpired()
	if removed != 1 {
		t.Fatalf("expected exactly the expired entry to be cleaned up, removed %d", removed)
	}

	remaining := st.ListActionCacheEntries("proj1")
	if len(remaining) != 1 || remaining[0].URLPattern != "example.com/live" {
		t.Fatalf("expected only the live entry to remain, got %+v", remaining)
	}
}
