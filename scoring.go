package openmemory

import (
	"math"
	"strings"
	"time"
)

// recencyLambda controls the recency term: exp(-λ · age_days).
const recencyLambda = 0.02

// CosineSimilarity computes the cosine similarity between two float32 vectors.
// Returns 0 if either vector is zero-length or zero-norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeVector scales v to unit length in place and returns it.
// Zero vectors are returned unchanged.
func NormalizeVector(v []float32) []float32 {
	var norm float64
	for _, f := range v {
		norm += float64(f) * float64(f)
	}
	if norm == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Tokenize lowercases and splits text on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// KeywordBoost counts how many query tokens of at least minLen runes appear
// in the content, scaled by boost and normalized by the query token count.
func KeywordBoost(queryTokens []string, content string, minLen int, boost float64) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for _, tok := range queryTokens {
		if len(tok) < minLen {
			continue
		}
		if strings.Contains(lower, tok) {
			hits++
		}
	}
	return float64(hits) * boost / float64(len(queryTokens))
}

// bm25Corpus carries the corpus-wide statistics BM25 needs. df counts are
// taken over the candidate batch; doc count and average length come from
// the metadata store's running totals.
type bm25Corpus struct {
	docCount  int
	avgDocLen float64
	df        map[string]int
}

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25 scores one document against the query tokens and normalizes the
// result to [0, 1] by dividing by the best achievable score for the query.
func (c *bm25Corpus) BM25(queryTokens []string, docTokens []string) float64 {
	if len(queryTokens) == 0 || len(docTokens) == 0 || c.docCount == 0 {
		return 0
	}
	tf := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		tf[t]++
	}
	docLen := float64(len(docTokens))
	avg := c.avgDocLen
	if avg == 0 {
		avg = docLen
	}

	var score, maxScore float64
	for _, q := range queryTokens {
		n := c.df[q]
		idf := math.Log(1 + (float64(c.docCount)-float64(n)+0.5)/(float64(n)+0.5))
		maxScore += idf * (bm25K1 + 1)
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		score += idf * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/avg))
	}
	if maxScore == 0 {
		return 0
	}
	return score / maxScore
}

// SalienceNow returns the salience decayed from lastSeen to now:
// salience · exp(-λ · age_days). Always in [0, 1] when salience is.
func SalienceNow(salience, lambda float64, lastSeen int64, now time.Time) float64 {
	days := now.Sub(time.Unix(lastSeen, 0)).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	v := salience * math.Exp(-lambda*days)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Recency returns exp(-λ_rec · age_days) for a memory last seen at lastSeen.
func Recency(lastSeen int64, now time.Time) float64 {
	days := now.Sub(time.Unix(lastSeen, 0)).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return math.Exp(-recencyLambda * days)
}

// HybridScore blends the per-hit components with the configured weights:
//
//	score = w_vec·cos + w_kw·keyword + w_bm25·bm25 + w_sal·salience_now + w_rec·recency
func HybridScore(w ScoringWeights, cos, keyword, bm25, salienceNow, recency float64) float64 {
	return w.Vector*cos + w.Keyword*keyword + w.BM25*bm25 + w.Salience*salienceNow + w.Recency*recency
}
