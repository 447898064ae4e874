package session

import "testing"

func TestPreviewKeepsShortMessages(t *testing.T) {
	if got := Preview("  hi  "); got != "hi" {
		t.Fatalf("unexpected preview: %q", got)
	}
}

func TestPreviewCountsRunes(t *testing.T) {
	msg := ""
	for i := 0; i < 55; i++ {
		msg += "é"
	}
	got := Preview(msg)
	if len([]rune(got)) != 53 {
		t.Fatalf("expected 50 runes plus ellipsis, got %d", len([]rune(got)))
	}
}
