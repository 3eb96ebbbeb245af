package registry

import (
	"sync"
	"testing"
)

func TestRecordEditMonotonic(t *testing.T) {
	reg := New()
	const edits = 120
	var wg sync.WaitGroup
	for i := 0; i < edits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.RecordEdit("alice")
		}()
	}
	wg.Wait()

	counts := reg.Contributions()
	if counts["alice"] != edits {
		t.Fatalf("expected %d edits for alice, got %d", edits, counts["alice"])
	}
}

func TestContributionsReturnsCopy(t *testing.T) {
	reg := New()
	reg.RecordEdit("alice")

	snapshot := reg.Contributions()
	snapshot["alice"] = 999

	if got := reg.Contributions()["alice"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into registry: %d", got)
	}
}

func TestSetPresenceLastWriteWins(t *testing.T) {
	reg := New()
	reg.SetPresence("alice", "a.txt")
	full := reg.SetPresence("alice", "b.txt")

	if full["alice"] != "b.txt" {
		t.Fatalf("expected last write to win, got %q", full["alice"])
	}
	if len(full) != 1 {
		t.Fatalf("expected single presence entry, got %d", len(full))
	}

	full["alice"] = "c.txt"
	if got := reg.Presence()["alice"]; got != "b.txt" {
		t.Fatalf("returned map must be a copy, registry now has %q", got)
	}
}
