//go:build !dlib

package extractor

import (
	"context"
	"errors"
)

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("dlib extractor not available: rebuild with -tags dlib")

// DlibDetector is unavailable in this build.
type DlibDetector struct{}

// NewDlibDetector always fails without the dlib build tag.
func NewDlibDetector(string) (*DlibDetector, error) {
	return nil, ErrDlibUnavailable
}

// Detect always fails without the dlib build tag.
func (d *DlibDetector) Detect(context.Context, []byte) ([]Face, error) {
	return nil, ErrDlibUnavailable
}

// Model returns an empty name in this build.
func (d *DlibDetector) Model() string { return "" }

// Close is a no-op in this build.
func (d *DlibDetector) Close() error { return nil }
