package rag

import (
	"math"
	"slices"
)

// CosineDistance returns 1 - cos(a, b). Vectors of different length or
// with zero norm are maximally distant (2).
func CosineDistance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
}

type scored struct {
	Record Record
	Score  float64
}

// RankRecords scores every record against query, keeps those matching
// filter and with the query's dimensionality, and returns the k closest.
// The sort is stable so ties keep insertion order.
func RankRecords(records []Record, query []float64, filter Filter, k int) []Hit {
	if k <= 0 {
		return []Hit{}
	}
	cands := make([]scored, 0, len(records))
	for _, r := range records {
		if len(r.Embedding) != len(query) || !filter.Matches(r.Metadata) {
			continue
		}
		cands = append(cands, scored{Record: r, Score: CosineDistance(query, r.Embedding)})
	}
	slices.SortStableFunc(cands, func(a, b scored) int {
		switch {
		case a.Score < b.Score:
			return -1
		case a.Score > b.Score:
			return 1
		}
		return 0
	})
	if len(cands) > k {
		cands = cands[:k]
	}

	hits := make([]Hit, len(cands))
	for i, c := range cands {
		docID := c.Record.Metadata.String(KeyDocID)
		if docID == "" {
			docID = "unknown"
		}
		hits[i] = Hit{
			DocID:    docID,
			ChunkID:  c.Record.ChunkID,
			Score:    c.Score,
			Text:     c.Record.Text,
			Metadata: c.Record.Metadata.Clone(),
		}
	}
	return hits
}
