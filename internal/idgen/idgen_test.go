package idgen

import (
	"strings"
	"testing"
)

func TestNew_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if len(id) != 36 {
			t.Fatalf("expected 36-char ID, got %q (%d)", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("trd_")
	if !strings.HasPrefix(id, "trd_") {
		t.Errorf("expected trd_ prefix, got %q", id)
	}
	if len(id) != len("trd_")+24 {
		t.Errorf("unexpected length: %q", id)
	}
}
