package index

// SplitterConfig controls the fixed-window chunker. The defaults keep each
// chunk large enough to preserve local coherence while leaving several
// chunks per note relevant to a search.
type SplitterConfig struct {
	WindowSize int `json:"window_size"`
	Overlap    int `json:"overlap"`
}

// DefaultSplitter returns the standard 800/100 configuration.
func DefaultSplitter() SplitterConfig {
	return SplitterConfig{WindowSize: 800, Overlap: 100}
}

// Split cuts body text into fixed-size windows with overlap. The result is
// deterministic: the same body and parameters always produce the same
// boundaries, so chunk indexes stay stable across re-chunking.
func (c SplitterConfig) Split(body string) []string {
	if body == "" {
		return nil
	}
	window := c.WindowSize
	if window <= 0 {
		window = 800
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= window {
		overlap = 0
	}
	step := window - overlap

	runes := []rune(body)
	if len(runes) <= window {
		return []string{body}
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
