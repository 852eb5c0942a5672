package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	defaultThumbnailWidth   = 640
	defaultThumbnailQuality = 80
)

// errEmptyFrame marks a decoded frame with no pixels. Callers treat it as a
// soft miss rather than a failure.
var errEmptyFrame = errors.New("decoded frame has zero dimensions")

// encodeThumbnail decodes a rendered frame, scales it down to maxWidth when
// wider, and re-encodes it as JPEG. Aspect ratio is preserved.
func encodeThumbnail(data []byte, maxWidth, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errEmptyFrame
	}

	if width > maxWidth {
		scale := float64(maxWidth) / float64(width)
		newHeight := int(float64(height) * scale)
		if newHeight < 1 {
			newHeight = 1
		}
		scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
