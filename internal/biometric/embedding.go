// Package biometric holds the face embedding type, its binary codec and the
// distance policy shared by enrollment and identification.
package biometric

import (
	"encoding/binary"
	"math"
)

// Dim is the default embedding dimension (dlib face descriptors).
const Dim = 128

// bytesPerValue is the encoded size of one component.
const bytesPerValue = 8

// Embedding is a fixed-length face descriptor.
type Embedding []float64

// Validate checks that e has exactly dim finite components.
func (e Embedding) Validate(dim int) error {
	if len(e) != dim {
		return &MalformedEmbeddingError{Expected: dim, Actual: len(e)}
	}
	for i, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &MalformedEmbeddingError{Expected: dim, Actual: len(e), Index: i}
		}
	}
	return nil
}

// Float32 converts the embedding for vector indexes that store float32.
func (e Embedding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// FromFloat32 widens a float32 vector returned by an embedder.
func FromFloat32(v []float32) Embedding {
	out := make(Embedding, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// Encode serializes e as consecutive little-endian IEEE-754 doubles.
func Encode(e Embedding) []byte {
	buf := make([]byte, len(e)*bytesPerValue)
	for i, v := range e {
		binary.LittleEndian.PutUint64(buf[i*bytesPerValue:], math.Float64bits(v))
	}
	return buf
}

// Decode parses a blob produced by Encode. Blobs whose length is not a
// multiple of 8, or that do not hold exactly dim values, are rejected.
func Decode(blob []byte, dim int) (Embedding, error) {
	if len(blob)%bytesPerValue != 0 {
		return nil, &MalformedEmbeddingError{Expected: dim, Bytes: len(blob)}
	}
	n := len(blob) / bytesPerValue
	if n != dim {
		return nil, &MalformedEmbeddingError{Expected: dim, Actual: n, Bytes: len(blob)}
	}
	e := make(Embedding, n)
	for i := range e {
		e[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*bytesPerValue:]))
	}
	return e, nil
}
