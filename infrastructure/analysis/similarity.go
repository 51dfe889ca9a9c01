// Package analysis provides in-memory vector math over stored embeddings:
// cosine similarity, k-means clustering, and column feature encoding.
package analysis

import (
	"math"
	"sort"
)

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical).
// Returns 0 if either vector has zero magnitude or lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// SimilarityMatch holds a row index and its similarity score.
type SimilarityMatch struct {
	rowIndex   int
	similarity float64
}

// NewSimilarityMatch creates a new SimilarityMatch.
func NewSimilarityMatch(rowIndex int, similarity float64) SimilarityMatch {
	return SimilarityMatch{rowIndex: rowIndex, similarity: similarity}
}

// RowIndex returns the matched row index.
func (m SimilarityMatch) RowIndex() int { return m.rowIndex }

// Similarity returns the similarity score.
func (m SimilarityMatch) Similarity() float64 { return m.similarity }

// StoredVector holds an embedding vector with its source row index.
type StoredVector struct {
	rowIndex  int
	embedding []float64
}

// NewStoredVector creates a new StoredVector.
func NewStoredVector(rowIndex int, embedding []float64) StoredVector {
	vec := make([]float64, len(embedding))
	copy(vec, embedding)
	return StoredVector{rowIndex: rowIndex, embedding: vec}
}

// RowIndex returns the source row index.
func (v StoredVector) RowIndex() int { return v.rowIndex }

// Embedding returns the embedding vector (copy).
func (v StoredVector) Embedding() []float64 {
	result := make([]float64, len(v.embedding))
	copy(result, v.embedding)
	return result
}

// TopKSimilar finds the top-k most similar vectors to the query, sorted by
// similarity descending. When minSimilarity is above -1, vectors scoring
// below it are excluded before ranking.
func TopKSimilar(query []float64, vectors []StoredVector, k int, minSimilarity float64) []SimilarityMatch {
	if len(vectors) == 0 || k <= 0 {
		return []SimilarityMatch{}
	}

	matches := make([]SimilarityMatch, 0, len(vectors))
	for _, v := range vectors {
		similarity := CosineSimilarity(query, v.embedding)
		if similarity < minSimilarity {
			continue
		}
		matches = append(matches, NewSimilarityMatch(v.rowIndex, similarity))
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].similarity > matches[j].similarity
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
