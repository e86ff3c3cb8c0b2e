package realtime

import (
	"fmt"
	"testing"
)

func TestSeenIDCacheAdmitsOnceAndRejectsDuplicates(t *testing.T) {
	cache := NewSeenIDCache(50)
	if !cache.Admit("msg_1") {
		t.Fatalf("first admit should succeed")
	}
	if cache.Admit("msg_1") {
		t.Fatalf("second admit of same id should be rejected")
	}
	if cache.Admit("") {
		t.Fatalf("blank ids are never admitted")
	}
}

func TestSeenIDCacheEvictsOldestHalfAtCapacity(t *testing.T) {
	cache := NewSeenIDCache(50)
	for i := 0; i < 51; i++ {
		if !cache.Admit(fmt.Sprintf("msg_%d", i)) {
			t.Fatalf("admit %d should succeed", i)
		}
	}
	if got := cache.Len(); got != 25 {
		t.Fatalf("expected 25 retained entries after eviction, got %d", got)
	}
	// The newest half survives eviction, the oldest does not.
	if cache.Admit("msg_50") {
		t.Fatalf("most recent id should still be present")
	}
	if !cache.Admit("msg_0") {
		t.Fatalf("oldest id should have been evicted")
	}
}
