// Package extractor turns raw image bytes into face descriptors.
//
// Detection is CPU-bound, so every call runs on a bounded worker pool with an
// execution timeout instead of on the caller's goroutine. A Detector backend
// (remote face server or in-process dlib) does the actual work.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kozaktomas/faceid/internal/constants"
	"github.com/kozaktomas/faceid/internal/descriptor"
)

const defaultTimeout = 10 * time.Second

// Face is a single detected face.
type Face struct {
	Descriptor descriptor.Descriptor
	BBox       []float64 // [x1, y1, x2, y2]
	Score      float64
}

// Detector finds faces in a JPEG image and computes one descriptor per face.
type Detector interface {
	Detect(ctx context.Context, jpegData []byte) ([]Face, error)
	Model() string
}

// AngleImage is one capture of a multi-angle enrollment.
type AngleImage struct {
	Angle string
	Data  []byte
}

// Options configures an Extractor.
type Options struct {
	Workers      int           // pool size, defaults to NumCPU
	Timeout      time.Duration // per-invocation timeout, defaults to 10s
	MaxImageSize int           // longest side before downscaling, defaults to 1920
	Logger       *slog.Logger
}

// Extractor runs a Detector on a bounded pool and enforces the exactly-one-face rule.
type Extractor struct {
	detector     Detector
	sem          chan struct{}
	timeout      time.Duration
	maxImageSize int
	logger       *slog.Logger
}

// New creates an Extractor around the given detector.
func New(detector Detector, opts Options) *Extractor {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxSize := opts.MaxImageSize
	if maxSize <= 0 {
		maxSize = constants.MaxImageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		detector:     detector,
		sem:          make(chan struct{}, workers),
		timeout:      timeout,
		maxImageSize: maxSize,
		logger:       logger,
	}
}

// Model returns the detector's model name.
func (e *Extractor) Model() string {
	return e.detector.Model()
}

// Extract returns the descriptor of the single face in the image.
// It fails with ErrDecode, ErrNoFaceDetected, ErrMultipleFacesDetected or
// ErrExtractionTimeout; a cancelled ctx returns ctx.Err() and the result is discarded.
func (e *Extractor) Extract(ctx context.Context, imageData []byte) (descriptor.Descriptor, error) {
	faces, err := e.run(ctx, imageData)
	if err != nil {
		return nil, err
	}

	switch len(faces) {
	case 0:
		return nil, ErrNoFaceDetected
	case 1:
	default:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFacesDetected, len(faces))
	}

	d := faces[0].Descriptor
	if err := d.Validate(0); err != nil {
		return nil, fmt.Errorf("detector returned invalid descriptor: %w", err)
	}
	return d.Clone(), nil
}

// ExtractAveraged extracts every angle concurrently and returns the mean descriptor.
// Failing angles are skipped with a warning and reported back; if no angle is
// usable the error is a *NoUsableImagesError (errors.Is ErrNoFaceImagesUsable).
// Cancellation of ctx is always fatal.
func (e *Extractor) ExtractAveraged(ctx context.Context, images []AngleImage) (descriptor.Descriptor, []AngleFailure, error) {
	if len(images) == 0 {
		return nil, nil, &NoUsableImagesError{}
	}

	type angleResult struct {
		desc descriptor.Descriptor
		err  error
	}
	results := make([]angleResult, len(images))

	var wg sync.WaitGroup
	for i, img := range images {
		wg.Add(1)
		go func(i int, img AngleImage) {
			defer wg.Done()
			d, err := e.Extract(ctx, img.Data)
			results[i] = angleResult{desc: d, err: err}
		}(i, img)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var usable []descriptor.Descriptor
	var failures []AngleFailure
	for i, res := range results {
		if res.err != nil {
			e.logger.Warn("skipping face image", "angle", images[i].Angle, "error", res.err)
			failures = append(failures, AngleFailure{Angle: images[i].Angle, Err: res.err})
			continue
		}
		usable = append(usable, res.desc)
	}

	if len(usable) == 0 {
		return nil, failures, &NoUsableImagesError{Failures: failures}
	}

	avg, err := descriptor.Average(usable)
	if err != nil {
		return nil, failures, fmt.Errorf("averaging descriptors: %w", err)
	}
	return avg, failures, nil
}

type detectResult struct {
	faces []Face
	err   error
}

// run prepares and detects on the worker pool, bounded by the execution timeout.
func (e *Extractor) run(ctx context.Context, imageData []byte) ([]Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
	case <-runCtx.Done():
		return nil, doneErr(ctx)
	}

	done := make(chan detectResult, 1)
	go func() {
		// The slot is held until the detector actually returns, even if the caller gave up.
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- detectResult{err: fmt.Errorf("%w: %v", ErrExtractionFault, r)}
			}
		}()

		jpegData, err := PrepareImage(imageData, e.maxImageSize)
		if err != nil {
			done <- detectResult{err: err}
			return
		}
		faces, err := e.detector.Detect(runCtx, jpegData)
		done <- detectResult{faces: faces, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && runCtx.Err() != nil &&
			(errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled)) {
			return nil, doneErr(ctx)
		}
		return res.faces, res.err
	case <-runCtx.Done():
		return nil, doneErr(ctx)
	}
}

// doneErr distinguishes caller cancellation from our own execution timeout.
func doneErr(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrExtractionTimeout
}
