package offline

import (
	"errors"
	"testing"
)

func TestTruncateError(t *testing.T) {
	t.Parallel()

	if got := truncateError(nil, 10); got != "" {
		t.Fatalf("expected empty for nil error, got %q", got)
	}

	err := errors.New("hello world")
	if got := truncateError(err, 5); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestTruncateString_UTF8Boundary(t *testing.T) {
	t.Parallel()

	// 3-byte runes; a cut mid-rune must back off to a valid boundary.
	s := "日本語"
	got := truncateString(s, 4)
	if got != "日" {
		t.Fatalf("expected %q, got %q", "日", got)
	}
	if got := truncateString(s, 0); got != "" {
		t.Fatalf("expected empty for maxBytes=0, got %q", got)
	}
}
