package openmemory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Embedding task types, passed through to providers that support them.
const (
	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"
)

// Embedder generates vector embeddings from text.
// Built-in: GeminiEmbedder, OpenAIEmbedder, OllamaEmbedder, SyntheticEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Dimension() int
}

// sectorPrompt frames text with its target sector so that advanced-mode
// per-sector calls produce sector-conditioned vectors.
func sectorPrompt(sector Sector, text string) string {
	return fmt.Sprintf("[%s] %s", sector, text)
}

// NewEmbedder constructs the configured provider.
func NewEmbedder(cfg *Config) (Embedder, error) {
	switch cfg.Embeddings {
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIKey, WithOpenAIDimension(cfg.VecDim)), nil
	case "gemini":
		return NewGeminiEmbedder(cfg.GeminiKey, cfg.VecDim), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaModel, cfg.VecDim, WithOllamaHost(cfg.OllamaHost)), nil
	case "synthetic":
		return NewSyntheticEmbedder(cfg.VecDim), nil
	default:
		return nil, validationf("unknown embeddings provider %q", cfg.Embeddings)
	}
}

// SyntheticEmbedder produces deterministic hash-seeded pseudo-random unit
// vectors. It backs the `synthetic` provider and the write-path fallback
// when a real provider is down, so ingest never stalls.
type SyntheticEmbedder struct {
	dimension int
}

// NewSyntheticEmbedder creates a synthetic provider with the given dimension.
func NewSyntheticEmbedder(dimension int) *SyntheticEmbedder {
	return &SyntheticEmbedder{dimension: dimension}
}

// Embed derives a unit vector from the text alone: the same text always
// maps to the same vector, so stored and query vectors still align.
func (e *SyntheticEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	state := binary.LittleEndian.Uint64(sum[:8])
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}

	vec := make([]float32, e.dimension)
	for i := range vec {
		// xorshift64* keeps the expansion cheap and reproducible
		state ^= state >> 12
		state ^= state << 25
		state ^= state >> 27
		r := state * 0x2545f4914f6cdd1d
		// map the top 24 bits onto [-1, 1)
		vec[i] = float32(int32(r>>40)-1<<23) / float32(1<<23)
	}
	return NormalizeVector(vec), nil
}

// Dimension returns the configured embedding dimension.
func (e *SyntheticEmbedder) Dimension() int {
	return e.dimension
}
