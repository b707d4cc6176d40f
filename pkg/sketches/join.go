package sketches

import (
	"sort"

	"github.com/cockroachdb/errors"
)

// ErrWidthTooSmall is returned for sketches too narrow for bias correction,
// which divides by width-1.
var ErrWidthTooSmall = errors.New("join estimation requires sketch width >= 2")

// JoinEstimate is the estimated size of an equi-join between the key
// multisets summarized by two sketches.
type JoinEstimate struct {
	// MinDotProduct is the smallest row-wise inner product of the two
	// counter matrices. It never underestimates the join size.
	MinDotProduct float64
	// Corrected is the median across rows of the bias-corrected inner
	// product.
	Corrected float64
	// RowEstimates holds the bias-corrected estimate of each row, sorted.
	RowEstimates []float64
	LeftTotal    int64
	RightTotal   int64
}

// EstimateJoin estimates |L ⋈ R| from two compatible sketches.
//
// For each row j the counters are corrected for the mass hashed into the
// same cell by other keys, assuming that mass is spread evenly over the
// remaining width-1 cells:
//
//	est_j = (w-1)/w * Σ_i (L_i - (T_L-L_i)/(w-1)) * (R_i - (T_R-R_i)/(w-1))
//
// The final estimate is the median est_j, which bounds the variance the way
// the minimum bounds a point query.
func EstimateJoin(left, right *CountMinSketch) (JoinEstimate, error) {
	if !left.Compatible(right) {
		return JoinEstimate{}, ErrIncompatibleSketches
	}
	if left.width < 2 {
		return JoinEstimate{}, ErrWidthTooSmall
	}

	w := float64(left.width)
	totalL := float64(left.total)
	totalR := float64(right.total)

	rows := make([]float64, left.depth)
	minDot := 0.0
	for j := 0; j < left.depth; j++ {
		l, r := left.Row(j), right.Row(j)
		var dot, corrected float64
		for i := range l {
			li, ri := float64(l[i]), float64(r[i])
			dot += li * ri
			corrected += (li - (totalL-li)/(w-1)) * (ri - (totalR-ri)/(w-1))
		}
		rows[j] = corrected * (w - 1) / w
		if j == 0 || dot < minDot {
			minDot = dot
		}
	}

	sort.Float64s(rows)
	return JoinEstimate{
		MinDotProduct: minDot,
		Corrected:     rows[left.depth/2],
		RowEstimates:  rows,
		LeftTotal:     left.total,
		RightTotal:    right.total,
	}, nil
}
