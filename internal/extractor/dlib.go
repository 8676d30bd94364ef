//go:build dlib

package extractor

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

const dlibModel = "dlib_face_recognition_resnet_model_v1"

// DlibDetector runs dlib in-process via go-face. Descriptors are 128-dimensional.
type DlibDetector struct {
	mu  sync.Mutex // the dlib recognizer is not safe for concurrent use
	rec *face.Recognizer
}

// NewDlibDetector loads the shape predictor and ResNet models from modelsDir.
func NewDlibDetector(modelsDir string) (*DlibDetector, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibDetector{rec: rec}, nil
}

// Detect returns one Face per detected face. ctx is only checked before the call;
// dlib itself cannot be interrupted.
func (d *DlibDetector) Detect(ctx context.Context, jpegData []byte) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	faces, err := d.rec.Recognize(jpegData)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognition failed: %w", err)
	}

	out := make([]Face, 0, len(faces))
	for _, f := range faces {
		desc := make(descriptor.Descriptor, len(f.Descriptor))
		copy(desc, f.Descriptor[:])
		r := f.Rectangle
		out = append(out, Face{
			Descriptor: desc,
			BBox:       []float64{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)},
			Score:      1,
		})
	}
	return out, nil
}

// Model returns the dlib model name.
func (d *DlibDetector) Model() string {
	return dlibModel
}

// Close releases the native recognizer.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec != nil {
		d.rec.Close()
		d.rec = nil
	}
	return nil
}
