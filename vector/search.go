package vector

import (
	"sort"

	"github.com/vexfs/vexfs/cmn"
)

// candidateFactor is the PQ-rank fan-out `f` the hybrid search reranks from
// before taking the final top-k (spec §4.3 step (a)).
const candidateFactor = 4

type scored struct {
	idx  int
	dist Fixed
}

// queryCentroidDistances builds the asymmetric-distance lookup table from a
// full-precision query vector, one row of K distances per subvector.
func queryCentroidDistances(q []float32, cb *Codebooks) [][]Fixed {
	dsub := cb.Dsub
	lut := make([][]Fixed, cb.M)
	for s := 0; s < cb.M; s++ {
		lut[s] = make([]Fixed, cb.K)
		sub := q[s*dsub : s*dsub+dsub]
		for k := 0; k < cb.K; k++ {
			lut[s][k] = subvectorDistanceF(sub, cb.centroid(s, k))
		}
	}
	return lut
}

func rankByLUT(lut [][]Fixed, codes []byte, n, m int) []scored {
	out := make([]scored, n)
	for i := 0; i < n; i++ {
		var sum Fixed
		for s := 0; s < m; s++ {
			code := codes[i*m+s]
			sum = sum.Add(lut[s][code])
		}
		out[i] = scored{idx: i, dist: sum}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	return out
}

// PQSearch implements `pq_search(q, pq_codes, codebooks, N, k, out)`: ranks
// all vectors by PQ-approximate distance and returns the top k indices,
// without exact reranking (spec §4.3).
func PQSearch(q []float32, pqCodes []byte, cb *Codebooks, n, k int, out []int) (int, error) {
	if k <= 0 || len(out) < k {
		return 0, cmn.NewErr(cmn.ErrInvalidParam, "pq_search: out buffer too small for k=%d", k)
	}
	if len(q) < cb.M*cb.Dsub {
		return 0, cmn.NewErr(cmn.ErrInvalidParam, "pq_search: query vector shorter than D")
	}
	lut := queryCentroidDistances(q, cb)
	ranked := rankByLUT(lut, pqCodes, n, cb.M)
	count := k
	if count > len(ranked) {
		count = len(ranked)
	}
	for i := 0; i < count; i++ {
		out[i] = ranked[i].idx
	}
	return count, nil
}

// HybridPQHNSWSearch implements `hybrid_pq_hnsw_search(q, pq_codes,
// codebooks, N, k, out) → count` (spec §4.3): PQ-rank all vectors, take the
// top f·k candidates, rerank by exact distance against full, and return the
// final top k. full is the row-major N×D array of original vectors used for
// the exact rerank pass; it stands in for the spec's opaque HNSW graph id
// (the spec requires only that the candidate-gather/rerank contract hold,
// §4.3 "HNSW reference").
func HybridPQHNSWSearch(q []float32, pqCodes []byte, cb *Codebooks, full []float32, d, n, k int, out []int) (int, error) {
	if k <= 0 || len(out) < k {
		return 0, cmn.NewErr(cmn.ErrInvalidParam, "hybrid_pq_hnsw_search: out buffer too small for k=%d", k)
	}
	if len(full) < d*n {
		return 0, cmn.NewErr(cmn.ErrInvalidParam, "hybrid_pq_hnsw_search: full vectors buffer too small")
	}
	lut := queryCentroidDistances(q, cb)
	ranked := rankByLUT(lut, pqCodes, n, cb.M)

	candCount := k * candidateFactor
	if candCount > len(ranked) {
		candCount = len(ranked)
	}
	candidates := ranked[:candCount]

	rerank := make([]scored, len(candidates))
	for i, c := range candidates {
		vec := full[c.idx*d : c.idx*d+d]
		rerank[i] = scored{idx: c.idx, dist: exactDistance(q, vec)}
	}
	sort.Slice(rerank, func(a, b int) bool { return rerank[a].dist < rerank[b].dist })

	count := k
	if count > len(rerank) {
		count = len(rerank)
	}
	for i := 0; i < count; i++ {
		out[i] = rerank[i].idx
	}
	return count, nil
}

func exactDistance(a, b []float32) Fixed {
	var sum Fixed
	for i := range a {
		diff := ToFixed(a[i]).Sub(ToFixed(b[i]))
		sum = sum.Add(diff.Mul(diff))
	}
	return sum
}
