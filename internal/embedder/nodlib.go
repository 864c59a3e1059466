//go:build !dlib

package embedder

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// Dlib is only available in binaries built with -tags dlib.
type Dlib struct{}

// NewDlib fails in binaries built without dlib support.
func NewDlib(string) (*Dlib, error) {
	return nil, fmt.Errorf("%w: binary built without the dlib tag", ErrUnavailable)
}

func (*Dlib) Extract(context.Context, []byte) (biometric.Embedding, error) {
	return nil, ErrUnavailable
}

func (*Dlib) Close() {}
