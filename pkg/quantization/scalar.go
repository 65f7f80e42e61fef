// Package quantization implements the storage-boundary vector codec: a
// per-vector scalar int8 quantizer with a float32 scale factor (§4.2).
// Quantization lives at the storage boundary, not inside an ANN index: an
// index sees quantized bytes only if it explicitly supports them.
package quantization

import (
	"fmt"
	"math"
)

// epsilonFloor keeps scale away from zero for the all-zero vector.
const epsilonFloor = 1e-12

// Quantized holds one vector's quantized representation: a per-vector scale
// and its int8 codes, q[i] = round(v[i] / scale) clamped to [-127, 127].
type Quantized struct {
	Scale float32
	Codes []int8
}

// Quantize computes a per-vector scalar int8 quantization of v.
//
// scale = max(|v_i|) / 127, floored at epsilon so the all-zero vector does
// not divide by zero; q_i = round(v_i / scale) clamped to [-127, 127].
func Quantize(v []float32) Quantized {
	var maxAbs float32
	for _, x := range v {
		a := float32(math.Abs(float64(x)))
		if a > maxAbs {
			maxAbs = a
		}
	}

	scale := maxAbs / 127
	if scale < epsilonFloor {
		scale = epsilonFloor
	}

	codes := make([]int8, len(v))
	for i, x := range v {
		q := math.Round(float64(x) / float64(scale))
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		codes[i] = int8(q)
	}

	return Quantized{Scale: scale, Codes: codes}
}

// Dequantize reconstructs the approximate float32 vector: x'_i = q_i * scale.
func Dequantize(q Quantized) []float32 {
	out := make([]float32, len(q.Codes))
	for i, c := range q.Codes {
		out[i] = float32(c) * q.Scale
	}
	return out
}

// MaxAbsError bounds the per-component reconstruction error, per the
// testable property in §8: ||dequantize(quantize(v)) - v||_inf <=
// max(|v|)/127 + epsilon.
func MaxAbsError(v []float32) float32 {
	var maxAbs float32
	for _, x := range v {
		a := float32(math.Abs(float64(x)))
		if a > maxAbs {
			maxAbs = a
		}
	}
	return maxAbs/127 + epsilonFloor
}

// ValidateDim returns an error if v's length does not match dim.
func ValidateDim(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("vector dimension %d does not match collection dimension %d", len(v), dim)
	}
	return nil
}
