// Package mock provides a scriptable face detector for testing.
package mock

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/faceid/internal/descriptor"
	"github.com/kozaktomas/faceid/internal/extractor"
)

// Behavior is what the detector does for images of a given width.
type Behavior struct {
	Faces []descriptor.Descriptor
	Err   error
	Delay time.Duration // honours ctx while waiting
	Block chan struct{} // ignores ctx, released when closed
	Panic any
}

// MockDetector is a mock implementation of extractor.Detector.
// Behaviors are keyed by image width, which survives JPEG re-encoding.
type MockDetector struct {
	mu        sync.RWMutex
	behaviors map[int]Behavior
	model     string
	calls     atomic.Int64
	inFlight  atomic.Int64
	maxFlight atomic.Int64
}

// NewMockDetector creates a detector that finds no faces until told otherwise.
func NewMockDetector() *MockDetector {
	return &MockDetector{
		behaviors: make(map[int]Behavior),
		model:     "mock",
	}
}

// On sets the behavior for images of the given width.
func (m *MockDetector) On(width int, b Behavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.behaviors[width] = b
}

// Face makes images of the given width contain exactly one face with descriptor d.
func (m *MockDetector) Face(width int, d descriptor.Descriptor) {
	m.On(width, Behavior{Faces: []descriptor.Descriptor{d}})
}

// Calls returns the number of Detect invocations.
func (m *MockDetector) Calls() int {
	return int(m.calls.Load())
}

// MaxConcurrent returns the highest number of simultaneous Detect calls seen.
func (m *MockDetector) MaxConcurrent() int {
	return int(m.maxFlight.Load())
}

// Detect implements extractor.Detector.
func (m *MockDetector) Detect(ctx context.Context, jpegData []byte) ([]extractor.Face, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxFlight.Load()
		if n <= cur || m.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(jpegData))
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	b := m.behaviors[cfg.Width]
	m.mu.RUnlock()

	if b.Block != nil {
		<-b.Block
	}
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.Panic != nil {
		panic(b.Panic)
	}
	if b.Err != nil {
		return nil, b.Err
	}

	faces := make([]extractor.Face, 0, len(b.Faces))
	for _, d := range b.Faces {
		faces = append(faces, extractor.Face{Descriptor: d.Clone(), Score: 0.99})
	}
	return faces, nil
}

// Model implements extractor.Detector.
func (m *MockDetector) Model() string {
	return m.model
}

// Image returns a small solid-colour JPEG of the given width.
func Image(width int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 90, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	return buf.Bytes()
}
