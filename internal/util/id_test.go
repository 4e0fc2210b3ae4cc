package util

import (
	"regexp"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^req_[A-Za-z0-9]{16}$`)
	id := NewID("req")
	if !pattern.MatchString(id) {
		t.Fatalf("NewID(req) = %q, want match %s", id, pattern)
	}
	if bare := NewID(""); len(bare) != idLength {
		t.Fatalf("NewID(\"\") length = %d, want %d", len(bare), idLength)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewID("")
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %q after %d iterations", id, i)
		}
		seen[id] = struct{}{}
	}
}
