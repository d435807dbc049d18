package transport

import (
	"strings"
	"testing"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v, want [hello]", got)
	}
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("a", 25)
	got := splitText(in, 10)
	if len(got) != 3 {
		t.Fatalf("chunk count = %d, want 3", len(got))
	}
	if strings.Join(got, "") != in {
		t.Fatal("chunks do not reassemble to the input")
	}
	for i, c := range got {
		if len(c) > 10 {
			t.Fatalf("chunk %d length = %d, exceeds limit", i, len(c))
		}
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	t.Parallel()
	in := "aaaa aaaa\nbbbb bbbb bbbb"
	got := splitText(in, 12)
	if got[0] != "aaaa aaaa\n" {
		t.Fatalf("first chunk = %q, want break after newline", got[0])
	}
	if strings.Join(got, "") != in {
		t.Fatal("chunks do not reassemble to the input")
	}
}

func TestSplitTextAvoidsTinyChunks(t *testing.T) {
	t.Parallel()
	// Newline too close to the window start: keep the hard cut instead.
	in := "ab\n" + strings.Repeat("c", 20)
	got := splitText(in, 12)
	if len(got[0]) != 12 {
		t.Fatalf("first chunk length = %d, want full window", len(got[0]))
	}
}

func TestSplitTextRuneSafe(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("é", 15)
	got := splitText(in, 10)
	if strings.Join(got, "") != in {
		t.Fatal("multibyte input corrupted by split")
	}
}
