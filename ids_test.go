package openmemory

import (
	"testing"
	"time"
)

func TestNewIDShape(t *testing.T) {
	id := NewID()
	if len(id) != 26 {
		t.Fatalf("expected 26-char id, got %d: %q", len(id), id)
	}
	for _, r := range id {
		if !(('0' <= r && r <= '9') || ('a' <= r && r <= 'z')) {
			t.Fatalf("unexpected rune %q in id %q", r, id)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewIDSortableByTime(t *testing.T) {
	// Ids minted later must never sort before ids minted earlier; the
	// leading bits are a millisecond timestamp.
	a := NewID()
	time.Sleep(3 * time.Millisecond)
	b := NewID()
	if b < a {
		t.Errorf("later id sorts before earlier: %q < %q", b, a)
	}
}
