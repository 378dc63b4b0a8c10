package chart

import (
	"strings"
	"testing"
)

func TestGenerateIDLength(t *testing.T) {
	id := GenerateID()
	if len(id) != IDLength {
		t.Errorf("id length = %d, want %d", len(id), IDLength)
	}
}

func TestGenerateIDAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateID()
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("id %q contains %q, outside the URL-safe alphabet", id, c)
			}
		}
	}
}

func TestGenerateIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if seen[id] {
			t.Fatalf("duplicate id %q in 1000 draws", id)
		}
		seen[id] = true
	}
}
