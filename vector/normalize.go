package vector

import (
	"github.com/vexfs/vexfs/cmn"
	"github.com/vexfs/vexfs/vector/simd"
)

// L2Normalize implements `l2_normalize(in, out, D, N)` (spec §4.3):
// out[i,d] = in[i,d] / ||in[i,..]||; the zero vector maps to zero output.
// in and out are row-major N×D; width selects the lane-width loop (a
// portable-Go "vectorized" unroll, see package simd) used to sum squares.
func L2Normalize(in, out []float32, d, n int, width simd.Width) error {
	if d <= 0 || n <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "l2_normalize: D and N must be positive")
	}
	if len(in) < d*n || len(out) < d*n {
		return cmn.NewErr(cmn.ErrInvalidParam, "l2_normalize: buffer too small for D=%d N=%d", d, n)
	}
	lanes := width.Lanes()
	for i := 0; i < n; i++ {
		row := in[i*d : i*d+d]
		var sumSq Fixed
		lo := 0
		for ; lo+lanes <= d; lo += lanes {
			var acc Fixed
			for l := 0; l < lanes; l++ {
				v := ToFixed(row[lo+l])
				acc = acc.Add(v.Mul(v))
			}
			sumSq = sumSq.Add(acc)
		}
		for ; lo < d; lo++ {
			v := ToFixed(row[lo])
			sumSq = sumSq.Add(v.Mul(v))
		}
		norm := sumSq.Sqrt()
		outRow := out[i*d : i*d+d]
		if norm == 0 {
			for d0 := 0; d0 < d; d0++ {
				outRow[d0] = 0
			}
			continue
		}
		normF := norm.ToFloat32()
		for d0 := 0; d0 < d; d0++ {
			outRow[d0] = row[d0] / normF
		}
	}
	return nil
}

// QuantizeKind distinguishes scalar_quantize's output representation.
type QuantizeKind int

const (
	Int8 QuantizeKind = iota
	UInt8
)

// ScalarQuantizeConfig carries scale and offset for scalar_quantize.
type ScalarQuantizeConfig struct {
	Scale  float64
	Offset float64
}

// ScalarQuantize implements `scalar_quantize(in, out, D, N, kind, scale,
// offset)`: out = clamp(round(in·scale + offset), range) (spec §4.3).
func ScalarQuantize(in []float32, out []byte, d, n int, kind QuantizeKind, cfg ScalarQuantizeConfig) error {
	if d <= 0 || n <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "scalar_quantize: D and N must be positive")
	}
	if len(in) < d*n || len(out) < d*n {
		return cmn.NewErr(cmn.ErrInvalidParam, "scalar_quantize: buffer too small")
	}
	var lo, hi int64
	switch kind {
	case Int8:
		lo, hi = -128, 127
	case UInt8:
		lo, hi = 0, 255
	default:
		return cmn.NewErr(cmn.ErrInvalidParam, "scalar_quantize: unknown kind %d", kind)
	}
	for i := 0; i < d*n; i++ {
		v := float64(in[i])*cfg.Scale + cfg.Offset
		out[i] = byte(clampRound(v, lo, hi))
	}
	return nil
}

// BinaryQuantize implements `binary_quantize(in, out, D, N, threshold)`:
// bit b is set iff in ≥ threshold; packed little-endian, LSB = dimension 0
// (spec §4.3).
func BinaryQuantize(in []float32, out []byte, d, n int, threshold float32) error {
	if d <= 0 || n <= 0 {
		return cmn.NewErr(cmn.ErrInvalidParam, "binary_quantize: D and N must be positive")
	}
	rowBytes := (d + 7) / 8
	if len(in) < d*n || len(out) < rowBytes*n {
		return cmn.NewErr(cmn.ErrInvalidParam, "binary_quantize: buffer too small")
	}
	for i := 0; i < n; i++ {
		row := in[i*d : i*d+d]
		outRow := out[i*rowBytes : i*rowBytes+rowBytes]
		for b := range outRow {
			outRow[b] = 0
		}
		for dim := 0; dim < d; dim++ {
			if row[dim] >= threshold {
				outRow[dim/8] |= 1 << uint(dim%8)
			}
		}
	}
	return nil
}
