package handler

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateBodyKeepsShortMessages(t *testing.T) {
	body := "hello"
	if got := truncateBody(body); got != body {
		t.Fatalf("truncateBody(%q) = %q", body, got)
	}
}

func TestTruncateBodyCapsLength(t *testing.T) {
	body := strings.Repeat("a", maxChatBodyLen+100)
	got := truncateBody(body)
	if len(got) != maxChatBodyLen {
		t.Fatalf("len = %d, want %d", len(got), maxChatBodyLen)
	}
}

// The cap must land on a rune boundary: a multibyte character
// straddling the limit is dropped whole, never split into invalid
// bytes.
func TestTruncateBodyDoesNotSplitRunes(t *testing.T) {
	// 3-byte runes; maxChatBodyLen is not a multiple of 3, so the
	// boundary falls mid-rune.
	body := strings.Repeat("한", maxChatBodyLen/3+10)
	got := truncateBody(body)

	if len(got) > maxChatBodyLen {
		t.Fatalf("len = %d, want at most %d", len(got), maxChatBodyLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated body is not valid UTF-8: %q", got[len(got)-6:])
	}
	if len(got)%3 != 0 {
		t.Fatalf("len = %d, want whole 3-byte runes", len(got))
	}
}
