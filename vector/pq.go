package vector

import (
	"github.com/vexfs/vexfs/cmn"
)

// PQConfig parameterizes product quantization: M subvectors of D/M
// dimensions each, K ≤ 256 centroids per subvector (spec §3: "M·(D/M) = D
// and K ≤ 256").
type PQConfig struct {
	M                  int
	K                  int
	TrainingIterations int
}

func (c PQConfig) validate(d int) error {
	if c.M <= 0 || d%c.M != 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "pq config: M=%d must divide D=%d", c.M, d)
	}
	if c.K <= 0 || c.K > 256 {
		return cmn.NewErr(cmn.ErrInvalidParam, "pq config: K=%d must be in (0,256]", c.K)
	}
	return nil
}

// Codebooks holds M subvector codebooks, each K centroids of Dsub
// dimensions, as a contiguous array (spec §3 "PQ codebook set").
type Codebooks struct {
	M, K, Dsub int
	Centroids  []float32 // [M][K][Dsub], row-major
}

func (c *Codebooks) centroid(s, k int) []float32 {
	base := (s*c.K + k) * c.Dsub
	return c.Centroids[base : base+c.Dsub]
}

// ProductQuantize implements `product_quantize(in, codes, D, N, cfg,
// codebooks?)` (spec §4.3): with codebooks, assigns each subvector to its
// nearest centroid (L2); without, uses the deterministic stub
// `codes[i,s] = |in[i, s·D/M]| mod K` for testing.
func ProductQuantize(in []float32, codes []byte, d, n int, cfg PQConfig, codebooks *Codebooks) error {
	if err := cfg.validate(d); err != nil {
		return err
	}
	if len(in) < d*n || len(codes) < cfg.M*n {
		return cmn.NewErr(cmn.ErrInvalidParam, "product_quantize: buffer too small")
	}
	dsub := d / cfg.M
	for i := 0; i < n; i++ {
		row := in[i*d : i*d+d]
		for s := 0; s < cfg.M; s++ {
			sub := row[s*dsub : s*dsub+dsub]
			var code byte
			if codebooks != nil {
				code = byte(nearestCentroid(sub, codebooks, s))
			} else {
				v := sub[0]
				if v < 0 {
					v = -v
				}
				code = byte(int64(v) % int64(cfg.K))
			}
			codes[i*cfg.M+s] = code
		}
	}
	return nil
}

func nearestCentroid(sub []float32, cb *Codebooks, s int) int {
	best := 0
	bestDist := subvectorDistanceF(sub, cb.centroid(s, 0))
	for k := 1; k < cb.K; k++ {
		dist := subvectorDistanceF(sub, cb.centroid(s, k))
		if dist < bestDist {
			bestDist = dist
			best = k
		}
	}
	return best
}

func subvectorDistanceF(a, b []float32) Fixed {
	var sum Fixed
	for i := range a {
		diff := ToFixed(a[i]).Sub(ToFixed(b[i]))
		sum = sum.Add(diff.Mul(diff))
	}
	return sum
}

// SubvectorDistance implements `subvector_distance(a, b, Dsub)`: sum of
// squared differences in fixed point (spec §4.3).
func SubvectorDistance(a, b []float32, dsub int) (Fixed, error) {
	if len(a) < dsub || len(b) < dsub {
		return 0, cmn.NewErr(cmn.ErrInvalidParam, "subvector_distance: buffer shorter than Dsub=%d", dsub)
	}
	return subvectorDistanceF(a[:dsub], b[:dsub]), nil
}

// TrainPQCodebooks implements `train_pq_codebooks(train, D, T, cfg,
// codebooks_out)` (spec §4.3): k-means with deterministic init
// `centroid[s][k] = train[(k·17 + s·23) mod T]`, cfg.training_iterations of
// assignment + mean update, empty-cluster policy keeps the previous
// centroid.
func TrainPQCodebooks(train []float32, d, tcount int, cfg PQConfig) (*Codebooks, error) {
	if err := cfg.validate(d); err != nil {
		return nil, err
	}
	if tcount <= 0 || len(train) < d*tcount {
		return nil, cmn.NewErr(cmn.ErrInvalidParam, "train_pq_codebooks: insufficient training data")
	}
	dsub := d / cfg.M
	cb := &Codebooks{M: cfg.M, K: cfg.K, Dsub: dsub, Centroids: make([]float32, cfg.M*cfg.K*dsub)}

	rowAt := func(t int) []float32 { return train[t*d : t*d+d] }

	for s := 0; s < cfg.M; s++ {
		for k := 0; k < cfg.K; k++ {
			t := (k*17 + s*23) % tcount
			copy(cb.centroid(s, k), rowAt(t)[s*dsub:s*dsub+dsub])
		}
	}

	iters := cfg.TrainingIterations
	if iters <= 0 {
		iters = 1
	}
	assign := make([]int, tcount)
	for iter := 0; iter < iters; iter++ {
		for s := 0; s < cfg.M; s++ {
			for t := 0; t < tcount; t++ {
				sub := rowAt(t)[s*dsub : s*dsub+dsub]
				assign[t] = nearestCentroid(sub, cb, s)
			}

			sums := make([][]float64, cfg.K)
			counts := make([]int, cfg.K)
			for k := range sums {
				sums[k] = make([]float64, dsub)
			}
			for t := 0; t < tcount; t++ {
				k := assign[t]
				sub := rowAt(t)[s*dsub : s*dsub+dsub]
				counts[k]++
				for j, v := range sub {
					sums[k][j] += float64(v)
				}
			}
			for k := 0; k < cfg.K; k++ {
				if counts[k] == 0 {
					continue // empty-cluster policy: keep previous centroid
				}
				centroid := cb.centroid(s, k)
				for j := range centroid {
					centroid[j] = float32(sums[k][j] / float64(counts[k]))
				}
			}
		}
	}
	return cb, nil
}
