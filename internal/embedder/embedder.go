// Package embedder turns face images into embeddings.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// ErrUnavailable is returned when the configured backend cannot be used.
var ErrUnavailable = errors.New("embedder unavailable")

// Embedder extracts the embedding of the first face in an image.
// Implementations return biometric.ErrNoFaceDetected when the image holds no face.
type Embedder interface {
	Extract(ctx context.Context, image []byte) (biometric.Embedding, error)
}

// Options selects and configures an embedder backend.
type Options struct {
	Backend        string // "http" or "dlib"
	URL            string
	ModelsDir      string
	Dim            int
	MaxConcurrency int
	MaxSide        int
}

// New creates the embedder named by opts.Backend, wrapped so that every
// image is prepared and every result is dimension-checked.
func New(opts Options) (Embedder, error) {
	var inner Embedder
	switch opts.Backend {
	case "", "http":
		inner = NewHTTPClient(opts.URL, opts.MaxConcurrency)
	case "dlib":
		d, err := NewDlib(opts.ModelsDir)
		if err != nil {
			return nil, err
		}
		inner = d
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", opts.Backend)
	}
	return &checked{inner: inner, dim: opts.Dim, maxSide: opts.MaxSide}, nil
}

// checked prepares input images and validates output vectors.
type checked struct {
	inner   Embedder
	dim     int
	maxSide int
}

func (c *checked) Extract(ctx context.Context, image []byte) (biometric.Embedding, error) {
	prepared, err := PrepareImage(image, c.maxSide)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	emb, err := c.inner.Extract(ctx, prepared)
	metrics.EmbedderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	dim := c.dim
	if dim <= 0 {
		dim = biometric.Dim
	}
	if err := emb.Validate(dim); err != nil {
		return nil, fmt.Errorf("embedder returned unusable vector: %w", err)
	}
	return emb, nil
}
