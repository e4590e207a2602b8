package imagegen

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// Mock implements Generator for testing.
type Mock struct {
	// GenerateFunc is called when Generate is invoked.
	// If nil, returns req.N() solid 8x8 images.
	GenerateFunc func(ctx context.Context, req Request) ([]image.Image, error)

	mu    sync.Mutex
	calls []Request
}

// NewMock creates a mock returning solid images.
func NewMock() *Mock {
	return &Mock{}
}

// Generate calls GenerateFunc and records the request.
func (m *Mock) Generate(ctx context.Context, req Request) ([]image.Image, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	images := make([]image.Image, req.N())
	for i := range images {
		images[i] = Solid(8, 8, color.RGBA{R: uint8(40 * i), G: 128, B: 200, A: 255})
	}
	return images, nil
}

// Calls returns the recorded requests.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var _ Generator = (*Mock)(nil)
