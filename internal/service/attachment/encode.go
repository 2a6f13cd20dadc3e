package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Images are never shrunk below this long edge to meet MaxBytes.
const minLongEdge = 64

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("image does not fit the size limit")
)

// Encode turns raw image bytes into a JPEG at cfg.Quality whose long edge is
// at most cfg.MaxDimension and whose size is at most cfg.MaxBytes.
func Encode(data []byte, contentType string, cfg Config) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
	}

	// the header is enough to refuse sources whose pixels would not fit
	// in memory
	hdr, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	limit := cfg.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedFormat, hdr.Width, hdr.Height)
	}
	if int64(hdr.Width)*int64(hdr.Height) > int64(limit) {
		return nil, fmt.Errorf("%w: %dx%d source over %d pixels", ErrTooLarge, hdr.Width, hdr.Height, limit)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	img = resize(img, cfg.MaxDimension)
	for {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: cfg.Quality}); err != nil {
			return nil, err
		}
		if cfg.MaxBytes <= 0 || buf.Len() <= cfg.MaxBytes {
			return buf.Bytes(), nil
		}

		next := longEdge(img) * 3 / 4
		if next < minLongEdge {
			return nil, fmt.Errorf("%w: %d bytes over %d", ErrTooLarge, buf.Len(), cfg.MaxBytes)
		}
		img = resize(img, next)
	}
}

func longEdge(img image.Image) int {
	b := img.Bounds()
	return max(b.Dx(), b.Dy())
}

// resize scales img so its long edge is at most maxEdge and flattens any
// transparency onto white, since JPEG has no alpha channel.
func resize(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if maxEdge > 0 && (w > maxEdge || h > maxEdge) {
		if w >= h {
			h = max(1, h*maxEdge/w)
			w = maxEdge
		} else {
			w = max(1, w*maxEdge/h)
			h = maxEdge
		}
	} else if isOpaque(img) {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func isOpaque(img image.Image) bool {
	o, ok := img.(interface{ Opaque() bool })
	return ok && o.Opaque()
}
