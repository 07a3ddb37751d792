package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm, accumulating in
// float64 to avoid drift on long vectors. A zero vector is left unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}
