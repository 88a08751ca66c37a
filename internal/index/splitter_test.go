package index

import (
	"strings"
	"testing"
)

func TestSplitDeterministic(t *testing.T) {
	body := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 60)
	cfg := SplitterConfig{WindowSize: 800, Overlap: 100}

	first := cfg.Split(body)
	second := cfg.Split(body)

	if len(first) == 0 {
		t.Fatal("no chunks produced")
	}
	if len(first) != len(second) {
		t.Fatalf("chunk count changed between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitWindowAndOverlap(t *testing.T) {
	body := strings.Repeat("a", 2000)
	cfg := SplitterConfig{WindowSize: 800, Overlap: 100}

	chunks := cfg.Split(body)
	// step=700: windows at 0, 700, 1400 — the last one is short.
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != 800 || len(chunks[1]) != 800 {
		t.Errorf("full windows have lengths %d, %d; want 800", len(chunks[0]), len(chunks[1]))
	}
	if len(chunks[2]) != 600 {
		t.Errorf("tail window length %d, want 600", len(chunks[2]))
	}
}

func TestSplitShortBodySingleChunk(t *testing.T) {
	chunks := DefaultSplitter().Split("short note")
	if len(chunks) != 1 || chunks[0] != "short note" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitEmptyBody(t *testing.T) {
	if chunks := DefaultSplitter().Split(""); chunks != nil {
		t.Fatalf("empty body produced chunks: %v", chunks)
	}
}

func TestSplitHandlesMultibyte(t *testing.T) {
	body := strings.Repeat("记忆与知识", 300) // 1500 runes
	cfg := SplitterConfig{WindowSize: 800, Overlap: 100}
	chunks := cfg.Split(body)
	// step=700: windows at 0 and 700; the second reaches the end.
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasPrefix(c, "记") && !strings.HasPrefix(c, "忆") &&
			!strings.HasPrefix(c, "与") && !strings.HasPrefix(c, "知") && !strings.HasPrefix(c, "识") {
			t.Errorf("chunk %d split mid-rune: %q", i, c[:3])
		}
	}
}
