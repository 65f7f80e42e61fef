package quantization

import (
	"math"
	"testing"
)

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	vecs := [][]float32{
		{1, 2, 3, 4},
		{-1.5, 0, 0.001, 99.9},
		{0, 0, 0, 0},
		{-128, 128, 64, -64},
	}

	for _, v := range vecs {
		q := Quantize(v)
		got := Dequantize(q)
		bound := MaxAbsError(v)
		for i := range v {
			diff := math.Abs(float64(got[i] - v[i]))
			if diff > float64(bound) {
				t.Fatalf("component %d: |%.6f - %.6f| = %.6f exceeds bound %.6f", i, got[i], v[i], diff, bound)
			}
		}
	}
}

func TestQuantizeCodesClamped(t *testing.T) {
	q := Quantize([]float32{1000, -1000, 0})
	for _, c := range q.Codes {
		if c > 127 || c < -127 {
			t.Fatalf("code %d out of range", c)
		}
	}
}

func TestQuantizeZeroVectorNoNaN(t *testing.T) {
	q := Quantize([]float32{0, 0, 0})
	out := Dequantize(q)
	for _, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("unexpected non-finite value %v for zero vector", v)
		}
	}
}

func TestValidateDim(t *testing.T) {
	if err := ValidateDim([]float32{1, 2, 3}, 3); err != nil {
		t.Fatal(err)
	}
	if err := ValidateDim([]float32{1, 2}, 3); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}
