package usecase

import (
	"fmt"
	"sort"

	"github.com/ChrisPatten/haven-sub001/internal/core/domain"
)

// weightedCandidates is one modality's ranked output plus its sub-query weight.
type weightedCandidates struct {
	candidates []domain.Candidate
	weight     float64
}

type fusedCandidate struct {
	candidate domain.Candidate
	score     float64
}

// fuseWeightedRRF combines ranked candidate lists by weighted reciprocal
// rank. A document surfacing in several modalities accumulates score. Output
// order is fully deterministic: score desc, content timestamp desc, document
// id asc, chunk index asc.
func fuseWeightedRRF(lists []weightedCandidates, rrfK int) []domain.Candidate {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]fusedCandidate)
	for _, list := range lists {
		weight := list.weight
		if weight <= 0 {
			weight = 1.0
		}
		for rank, candidate := range list.candidates {
			key := candidateKey(candidate)
			entry := acc[key]
			entry.candidate = preferRicherCandidate(entry.candidate, candidate)
			entry.score += weight / float64(rrfK+rank+1)
			acc[key] = entry
		}
	}

	out := make([]domain.Candidate, 0, len(acc))
	for _, entry := range acc {
		candidate := entry.candidate
		candidate.Score = entry.score
		out = append(out, candidate)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].ContentTimestamp.Equal(out[j].ContentTimestamp) {
			return out[i].ContentTimestamp.After(out[j].ContentTimestamp)
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})

	return out
}

func trimCandidates(candidates []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	return candidates[:limit]
}

func candidateKey(candidate domain.Candidate) string {
	return fmt.Sprintf("%s:%d", candidate.DocumentID, candidate.ChunkIndex)
}

func preferRicherCandidate(current, candidate domain.Candidate) domain.Candidate {
	if current.DocumentID == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Title == "" && candidate.Title != "" {
		current.Title = candidate.Title
	}
	if current.ContentTimestamp.IsZero() && !candidate.ContentTimestamp.IsZero() {
		current.ContentTimestamp = candidate.ContentTimestamp
	}
	if len(current.Facets) == 0 && len(candidate.Facets) > 0 {
		current.Facets = candidate.Facets
	}
	return current
}
