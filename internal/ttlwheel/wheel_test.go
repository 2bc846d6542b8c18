package ttlwheel

import "testing"

func TestAddRemove(t *testing.T) {
	t.Parallel()
	w := New(10, 1)
	w.Add("a", 0, 5)
	if !w.Remove("a") {
		t.Fatal("expected a to be tracked")
	}
	if w.Remove("a") {
		t.Fatal("second remove should report absent")
	}
}

func TestReAddMovesSlot(t *testing.T) {
	t.Parallel()
	w := New(10, 1)
	w.Add("a", 0, 1)
	w.Add("a", 0, 5)
	if w.Len() != 1 {
		t.Fatalf("re-adding the same key must not duplicate tracking, got len=%d", w.Len())
	}
}

func TestTickDrainsSlot(t *testing.T) {
	t.Parallel()
	w := New(4, 1)
	w.Add("a", 0, 0) // expires in slot 0 == currentSlot
	got := w.Tick()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected [a], got %v", got)
	}
	if w.Len() != 0 {
		t.Fatalf("expected wheel empty after tick, got len=%d", w.Len())
	}
}

func TestTickAdvancesEvenWhenEmpty(t *testing.T) {
	t.Parallel()
	w := New(3, 1)
	w.Add("a", 0, 2) // lands two slots ahead
	if got := w.Tick(); len(got) != 0 {
		t.Fatalf("expected no expirations yet, got %v", got)
	}
	if got := w.Tick(); len(got) != 0 {
		t.Fatalf("expected no expirations yet, got %v", got)
	}
	got := w.Tick()
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected [a] on third tick, got %v", got)
	}
}

func TestSaturationClampsToHorizon(t *testing.T) {
	t.Parallel()
	w := New(5, 1) // horizon = 5s
	w.Add("a", 0, 1000)
	if w.Len() != 1 {
		t.Fatal("saturated TTL must still be tracked, not rejected")
	}
}

func TestInvariantKeyToSlotMatchesSlotContents(t *testing.T) {
	t.Parallel()
	w := New(8, 1)
	for i, k := range []string{"a", "b", "c", "d"} {
		w.Add(k, 0, int64(i%8))
	}
	w.Remove("b")

	total := 0
	for _, s := range w.slots {
		total += len(s)
	}
	if total != len(w.keyToSlot) {
		t.Fatalf("invariant violated: slots total %d != keyToSlot %d", total, len(w.keyToSlot))
	}
}
