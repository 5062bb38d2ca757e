// Package vector holds embedding math shared by the indexer and the vector stores.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/viant/vec/search"
)

// DimensionMismatchError reports a vector whose length differs from the configured dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// CheckDimension returns a *DimensionMismatchError when len(v) != expected.
func CheckDimension(expected int, v []float32) error {
	if len(v) != expected {
		return &DimensionMismatchError{Expected: expected, Got: len(v)}
	}
	return nil
}

// Magnitude is the euclidean norm of v.
func Magnitude(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return search.Float32s(v).Magnitude()
}

// CosineSimilarity returns 1 - cosine distance. Zero vectors have similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Expected: len(a), Got: len(b)}
	}
	return CosineSimilarityWithMagnitude(a, b, Magnitude(a), Magnitude(b)), nil
}

// CosineSimilarityWithMagnitude is CosineSimilarity with precomputed norms. Lengths must match.
func CosineSimilarityWithMagnitude(a, b []float32, ma, mb float32) float32 {
	if ma == 0 || mb == 0 {
		return 0
	}
	d := search.Float32s(a).CosineDistanceWithMagnitude(b, ma, mb)
	if math.IsNaN(float64(d)) {
		return 0
	}
	return 1 - d
}

// Encode packs v as little-endian IEEE 754 float32 values with no length prefix.
func Encode(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// Decode reverses Encode.
func Decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector: invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
