package openmemory

import (
	"bytes"
	"compress/gzip"
	"io"
	"sort"
	"strings"
)

// Summarize produces a summary of at most maxLen characters, breaking at a
// word boundary. The algorithm is deliberately pure and deterministic: the
// first sentence, truncated if needed.
func Summarize(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?"); idx > 0 && idx+1 <= len(content) {
		first := strings.TrimSpace(content[:idx+1])
		if len(first) <= maxLen {
			return first
		}
	}
	return truncateAtWord(content, maxLen)
}

// LayeredSummary condenses content through the configured number of
// summarization layers; each extra layer re-summarizes the previous output.
func LayeredSummary(content string, layers, maxLen int) string {
	if layers < 1 {
		layers = 1
	}
	out := content
	for i := 0; i < layers; i++ {
		out = Summarize(out, maxLen)
	}
	return out
}

// truncateAtWord returns the first n characters of s, cut at a word boundary
// with a trailing ellipsis.
func truncateAtWord(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n > 3 {
		n -= 3 // room for the ellipsis
	}
	cut := n
	for cut > 0 && s[cut] != ' ' {
		cut--
	}
	if cut == 0 {
		cut = n
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

// stopwords excluded from keyword extraction.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "was": true, "are": true, "but": true, "not": true,
	"you": true, "have": true, "has": true, "had": true, "his": true,
	"her": true, "its": true, "they": true, "them": true, "from": true,
	"were": true, "been": true, "will": true, "would": true, "about": true,
}

// TopKeywords returns the n most frequent non-stopword tokens of at least
// 3 runes, most frequent first. Ties break alphabetically for determinism.
func TopKeywords(text string, n int) []string {
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		if len(tok) < 3 || stopwords[tok] {
			continue
		}
		counts[tok]++
	}
	kws := make([]string, 0, len(counts))
	for k := range counts {
		kws = append(kws, k)
	}
	sort.Slice(kws, func(i, j int) bool {
		if counts[kws[i]] != counts[kws[j]] {
			return counts[kws[i]] > counts[kws[j]]
		}
		return kws[i] < kws[j]
	})
	if len(kws) > n {
		kws = kws[:n]
	}
	return kws
}

// CompressContent gzips content when compression is enabled and the payload
// is long enough to be worth it. Returns the blob and whether it was
// compressed.
func CompressContent(cfg *Config, content string) ([]byte, bool) {
	if !cfg.CompressionEnabled || cfg.CompressionAlgorithm == "none" ||
		len(content) < cfg.CompressionMinLength {
		return []byte(content), false
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(content)); err != nil {
		return []byte(content), false
	}
	if err := zw.Close(); err != nil {
		return []byte(content), false
	}
	return buf.Bytes(), true
}

// DecompressContent reverses CompressContent.
func DecompressContent(blob []byte, compressed bool) (string, error) {
	if !compressed {
		return string(blob), nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
