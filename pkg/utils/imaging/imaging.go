// Package imaging prepares rendered document images for storage and vision.
package imaging

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/image/draw"
)

const (
	// MaxStoredBytes bounds the size of images uploaded to the blob store
	MaxStoredBytes = 256000
	// MaxVisionDimension bounds the longest side of images sent to the vision model
	MaxVisionDimension = 1024

	visionQuality = 75
)

// storageQualities are tried in order until the encoded image fits
var storageQualities = []int{85, 70, 55, 40, 25}

// EncodeJPEG encodes img at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, goerr.Wrap(err, "failed to encode jpeg", goerr.V("quality", quality))
	}
	return buf.Bytes(), nil
}

// Compress lowers JPEG quality step by step until the image fits in
// maxBytes. When no quality fits, the highest quality encoding is returned.
func Compress(img image.Image, maxBytes int) ([]byte, error) {
	var first []byte
	for _, q := range storageQualities {
		data, err := EncodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if len(data) <= maxBytes {
			return data, nil
		}
		if first == nil {
			first = data
		}
	}
	return first, nil
}

// Resize scales img down so neither side exceeds maxDim. Smaller images are
// returned unchanged.
func Resize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}

	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// ForVision resizes img and encodes it for the vision model
func ForVision(img image.Image) ([]byte, error) {
	return EncodeJPEG(Resize(img, MaxVisionDimension), visionQuality)
}
