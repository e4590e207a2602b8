// Package imagegen turns text prompts into images.
//
// Backends return decoded images; callers encode them with EncodeJPEG
// before putting them on the wire. Mosaic tiles a batch into one image.
package imagegen

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"

	// Registered for image.Decode of backend responses.
	_ "image/png"
)

// JPEGQuality is used by EncodeJPEG.
const JPEGQuality = 90

var (
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("imagegen: empty prompt")
	// ErrNoImages is returned when a backend answered without images.
	ErrNoImages = errors.New("imagegen: no images returned")
	// ErrNoAPIKey is returned when a backend needs credentials.
	ErrNoAPIKey = errors.New("imagegen: API key required")
)

// Request describes one generation. Zero values select backend defaults.
type Request struct {
	Prompt        string
	Batch         int
	Width         int
	Height        int
	Steps         int
	GuidanceScale float64
}

// N returns the batch size, at least one.
func (r Request) N() int {
	if r.Batch < 1 {
		return 1
	}
	return r.Batch
}

// Generator produces images.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]image.Image, error)
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Mosaic pastes imgs into a rows x cols grid, row-major, using the first
// image's size as the cell size.
func Mosaic(imgs []image.Image, rows, cols int) image.Image {
	if len(imgs) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	w, h := imgs[0].Bounds().Dx(), imgs[0].Bounds().Dy()
	grid := image.NewRGBA(image.Rect(0, 0, cols*w, rows*h))
	for i, img := range imgs {
		if i >= rows*cols {
			break
		}
		x, y := (i%cols)*w, (i/cols)*h
		draw.Draw(grid, image.Rect(x, y, x+w, y+h), img, img.Bounds().Min, draw.Src)
	}
	return grid
}

func decode(raw []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	return img, err
}
