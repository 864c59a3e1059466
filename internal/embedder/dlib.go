//go:build dlib

package embedder

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// Dlib extracts 128-d descriptors in-process with dlib.
// The recognizer is not safe for concurrent use.
type Dlib struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlib loads shape_predictor_5_face_landmarks.dat,
// dlib_face_recognition_resnet_model_v1.dat and mmod_human_face_detector.dat
// from modelsDir.
func NewDlib(modelsDir string) (*Dlib, error) {
	log.Printf("Loading face recognition models from %s", modelsDir)
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load dlib models: %v", ErrUnavailable, err)
	}
	return &Dlib{rec: rec}, nil
}

// Extract returns the descriptor of the first face found.
func (d *Dlib) Extract(ctx context.Context, image []byte) (biometric.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	faces, err := d.rec.Recognize(image)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	if len(faces) == 0 {
		return nil, biometric.ErrNoFaceDetected
	}
	return biometric.FromFloat32(faces[0].Descriptor[:]), nil
}

// Close releases the recognizer.
func (d *Dlib) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Close()
}
