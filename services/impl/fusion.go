package impl

import (
	"context"
	"log"
	"sort"

	"github.com/docstack-rag/models"
	"github.com/docstack-rag/services"
)

// RRFConstant is the standard smoothing constant for reciprocal rank
// fusion.
const RRFConstant = 60

// FuseRRF merges the dense and lexical result lists by reciprocal rank:
// each chunk scores sum(1 / (k + rank)) over the lists that contain it,
// with ranks starting at 1. The union is sorted by fused score descending;
// ties break by lowest dense rank, then lowest lexical rank, then chunk
// identity.
func FuseRRF(dense, lexical []models.RetrievedChunk, k int) []models.RetrievedChunk {
	if k <= 0 {
		k = RRFConstant
	}

	type fusedEntry struct {
		chunk     models.RetrievedChunk
		score     float64
		denseRank int
		lexRank   int
	}

	const unranked = int(^uint(0) >> 1)

	entries := make(map[string]*fusedEntry)
	order := make([]string, 0, len(dense)+len(lexical))

	add := func(c models.RetrievedChunk, rank int, isDense bool) {
		id := c.Identity()
		e, ok := entries[id]
		if !ok {
			e = &fusedEntry{chunk: c, denseRank: unranked, lexRank: unranked}
			entries[id] = e
			order = append(order, id)
		}
		e.score += 1.0 / float64(k+rank)
		if isDense {
			e.denseRank = rank
		} else {
			e.lexRank = rank
		}
	}

	for i, c := range dense {
		add(c, i+1, true)
	}
	for i, c := range lexical {
		add(c, i+1, false)
	}

	fused := make([]*fusedEntry, 0, len(order))
	for _, id := range order {
		fused = append(fused, entries[id])
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].denseRank != fused[j].denseRank {
			return fused[i].denseRank < fused[j].denseRank
		}
		if fused[i].lexRank != fused[j].lexRank {
			return fused[i].lexRank < fused[j].lexRank
		}
		return fused[i].chunk.Identity() < fused[j].chunk.Identity()
	})

	out := make([]models.RetrievedChunk, len(fused))
	for i, e := range fused {
		out[i] = e.chunk
		out[i].Score = e.score
	}
	return out
}

// ApplyReranker reorders fused candidates with the optional reranker. Any
// reranker failure falls back to the fused list unchanged.
func ApplyReranker(ctx context.Context, reranker services.Reranker, query string, chunks []models.RetrievedChunk) []models.RetrievedChunk {
	if reranker == nil || len(chunks) == 0 {
		return chunks
	}

	candidates := make([]services.RerankCandidate, len(chunks))
	byIdentity := make(map[string]models.RetrievedChunk, len(chunks))
	for i, c := range chunks {
		candidates[i] = services.RerankCandidate{Identity: c.Identity(), Content: c.Content}
		byIdentity[c.Identity()] = c
	}

	results, err := reranker.Rerank(ctx, query, candidates)
	if err != nil || len(results) == 0 {
		log.Printf("reranker failed, keeping fused order: %v", err)
		return chunks
	}

	out := make([]models.RetrievedChunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		c, ok := byIdentity[r.Identity]
		if !ok {
			continue
		}
		score := r.Score
		c.RerankScore = &score
		c.RerankSource = r.Source
		out = append(out, c)
		seen[r.Identity] = struct{}{}
	}
	// Candidates the reranker dropped keep their fused position at the tail.
	for _, c := range chunks {
		if _, ok := seen[c.Identity()]; !ok {
			out = append(out, c)
		}
	}
	return out
}
