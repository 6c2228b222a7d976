package storage

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns text into a deterministic embedding vector. Tokens are
// hashed into vector buckets and the result is L2-normalized, giving stable
// cosine similarity for overlapping vocabulary. It is a stand-in for a real
// embedding model, not a semantic one.
type Embedder struct {
	dims int
}

// NewEmbedder creates an embedder producing vectors of the given width.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = 256
	}
	return &Embedder{dims: dims}
}

// Dims returns the embedding vector width.
func (e *Embedder) Dims() int {
	return e.dims
}

// Embed produces the embedding for text. Equal inputs always produce equal
// vectors.
func (e *Embedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dims))
		// Low bit decides sign so unrelated tokens cancel out.
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
