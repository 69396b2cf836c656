package raster

import "math"

// ToUint16 saturates into the uint16 range; NaN becomes 0.
func ToUint16(src []float32) []uint16 {
	out := make([]uint16, len(src))
	for i, v := range src {
		switch {
		case math.IsNaN(float64(v)) || v <= 0:
			out[i] = 0
		case v >= math.MaxUint16:
			out[i] = math.MaxUint16
		default:
			out[i] = uint16(v + 0.5)
		}
	}
	return out
}
