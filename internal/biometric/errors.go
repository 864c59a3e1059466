package biometric

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEmbedding matches every *MalformedEmbeddingError.
	ErrMalformedEmbedding = errors.New("malformed embedding")

	// ErrNoFaceDetected is returned by embedders when an image holds no face.
	ErrNoFaceDetected = errors.New("no face detected")
)

// MalformedEmbeddingError reports a vector or blob that violates the length
// invariant. Owner is filled in by stores when the value came from a record.
type MalformedEmbeddingError struct {
	Expected int
	Actual   int
	Bytes    int
	Index    int
	Owner    string
}

func (e *MalformedEmbeddingError) Error() string {
	var msg string
	switch {
	case e.Bytes%bytesPerValue != 0:
		msg = fmt.Sprintf("malformed embedding: %d bytes is not a multiple of %d", e.Bytes, bytesPerValue)
	case e.Actual == e.Expected:
		msg = fmt.Sprintf("malformed embedding: non-finite value at index %d", e.Index)
	default:
		msg = fmt.Sprintf("malformed embedding: expected %d values, got %d", e.Expected, e.Actual)
	}
	if e.Owner != "" {
		msg += " (" + e.Owner + ")"
	}
	return msg
}

func (e *MalformedEmbeddingError) Is(target error) bool {
	return target == ErrMalformedEmbedding
}
