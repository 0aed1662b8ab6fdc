// Package similarity implements cosine similarity scoring and best-match
// selection over cache entry candidates.
package similarity

import "math"

// Cosine returns the cosine similarity of a and b in [-1, 1].
// It returns exactly 0 when the vectors have unequal length or when either
// vector has zero magnitude; it never divides by zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	magnitude := math.Sqrt(normA) * math.Sqrt(normB)
	if magnitude == 0 {
		return 0
	}

	sim := dot / magnitude
	// Clamp accumulated floating point error back into range.
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// Candidate pairs an entry identifier with its stored embedding.
type Candidate struct {
	ID        string
	Embedding []float64
}

// Match is a scored candidate at or above the threshold.
type Match struct {
	ID         string
	Similarity float64
}

// BestMatch scans candidates in order and returns the one most similar to
// embedding, or nil if no candidate reaches threshold. Ties keep the earlier
// candidate, so with a recency-descending scan the most recent entry wins.
func BestMatch(embedding []float64, candidates []Candidate, threshold float64) *Match {
	var best *Match
	for i := range candidates {
		sim := Cosine(embedding, candidates[i].Embedding)
		if sim < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{ID: candidates[i].ID, Similarity: sim}
		}
	}
	return best
}
