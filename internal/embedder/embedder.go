// Package embedder defines the embedding-model capability the enricher
// depends on and ships an HTTP-backed implementation plus a deterministic
// test stub, per the spec's model-loader abstraction design note.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Embedder turns a batch of texts into fixed-dimension vectors. The core
// never depends on a specific model runtime through this interface.
type Embedder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	BatchSizeHint() int
}

// HashStub is a deterministic embedder for tests: each text hashes to a unit
// vector of dimension Dims, so re-processing the same span always yields the
// same embedding without a model server.
type HashStub struct {
	Dims int
}

// NewHashStub builds a HashStub with the given dimension; a non-positive
// dims yields 8.
func NewHashStub(dims int) *HashStub {
	if dims <= 0 {
		dims = 8
	}
	return &HashStub{Dims: dims}
}

func (h *HashStub) BatchSizeHint() int { return 512 }

func (h *HashStub) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashToUnitVector(t, h.Dims)
	}
	return out, nil
}

func hashToUnitVector(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, dims)
	var sq float64
	for i := 0; i < dims; i++ {
		// Cycle through the 32 hash bytes four at a time for each dimension.
		off := (i * 4) % (len(sum) - 3)
		bits := binary.BigEndian.Uint32(sum[off : off+4])
		// Map to [-1, 1].
		f := float64(bits)/float64(^uint32(0))*2 - 1
		v[i] = float32(f)
		sq += f * f
	}
	norm := math.Sqrt(sq)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
