package embedder

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func faceServer(t *testing.T, resp FaceResponse, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_Extract(t *testing.T) {
	emb := []float64{0.1, 0.2, 0.3, 0.4}
	srv := faceServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Dim: 4, Embedding: emb},
			{FaceIndex: 1, Dim: 4, Embedding: []float64{9, 9, 9, 9}},
		},
	}, http.StatusOK)

	got, err := NewHTTPClient(srv.URL+"/", 1).Extract(context.Background(), testPNG(t, 8, 8))
	require.NoError(t, err)
	assert.Equal(t, biometric.Embedding(emb), got)
}

func TestHTTPClient_NoFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusOK)

	_, err := NewHTTPClient(srv.URL, 1).Extract(context.Background(), testPNG(t, 8, 8))
	assert.ErrorIs(t, err, biometric.ErrNoFaceDetected)
}

func TestHTTPClient_ServerError(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusInternalServerError)

	_, err := NewHTTPClient(srv.URL, 1).Extract(context.Background(), testPNG(t, 8, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestHTTPClient_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(FaceResponse{Faces: []FaceDetection{{Embedding: []float64{1}}}})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 2)
	var wg sync.WaitGroup
	for range 6 {
		wg.Go(func() {
			_, err := client.Extract(context.Background(), []byte("image"))
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestChecked_ValidatesDimension(t *testing.T) {
	srv := faceServer(t, FaceResponse{Faces: []FaceDetection{{Embedding: []float64{1, 2, 3}}}}, http.StatusOK)

	e, err := New(Options{Backend: "http", URL: srv.URL, Dim: 4})
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), testPNG(t, 8, 8))
	assert.ErrorIs(t, err, biometric.ErrMalformedEmbedding)
}

func TestChecked_RejectsInvalidImage(t *testing.T) {
	srv := faceServer(t, FaceResponse{Faces: []FaceDetection{{Embedding: []float64{1, 2, 3, 4}}}}, http.StatusOK)

	e, err := New(Options{URL: srv.URL, Dim: 4})
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), []byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrInvalidImage)

	got, err := e.Extract(context.Background(), testPNG(t, 8, 8))
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Options{Backend: "magic"})
	assert.Error(t, err)
}

func TestPrepareImage_Downscales(t *testing.T) {
	out, err := PrepareImage(testPNG(t, 200, 100), 50)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestPrepareImage_KeepsSmallImages(t *testing.T) {
	out, err := PrepareImage(testPNG(t, 40, 30), 50)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}

func TestPrepareImage_Errors(t *testing.T) {
	_, err := PrepareImage(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = PrepareImage(make([]byte, MaxImageBytes+1), 0)
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestDecodeBase64Image(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr error
	}{
		{"plain", enc, raw, nil},
		{"data url", "data:image/jpeg;base64," + enc, raw, nil},
		{"surrounding space", "  " + enc + "\n", raw, nil},
		{"empty", "", nil, ErrEmptyImage},
		{"empty data url", "data:image/png;base64,", nil, ErrEmptyImage},
		{"no comma", "data:image/png;base64", nil, ErrInvalidImage},
		{"not base64", "%%%", nil, ErrInvalidImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64Image(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	assert.Equal(t, "image/jpeg", detectMIMEType([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}))
	assert.Equal(t, "image/png", detectMIMEType(testPNG(t, 1, 1)))
	assert.Equal(t, "application/octet-stream", detectMIMEType([]byte("short")))
}
