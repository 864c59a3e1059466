package embedder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxImageBytes bounds the decoded size of an uploaded image.
const MaxImageBytes = 8 << 20

// DefaultMaxSide is the longest edge an image is scaled down to.
const DefaultMaxSide = 1024

var (
	ErrEmptyImage    = errors.New("image is empty")
	ErrImageTooLarge = errors.New("image is too large")
	ErrInvalidImage  = errors.New("invalid image")
)

// DecodeBase64Image decodes a base64 image, accepting a data-URL prefix
// such as "data:image/jpeg;base64,".
func DecodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: data URL without payload", ErrInvalidImage)
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, ErrEmptyImage
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return data, nil
}

// PrepareImage decodes an image and re-encodes it as JPEG, scaling it to
// fit within maxSide while keeping aspect ratio.
func PrepareImage(data []byte, maxSide int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > maxSide || height > maxSide {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxSide
			newHeight = max(1, int(float64(height)*float64(maxSide)/float64(width)))
		} else {
			newHeight = maxSide
			newWidth = max(1, int(float64(width)*float64(maxSide)/float64(height)))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
