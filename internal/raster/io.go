package raster

import (
	"context"
	"errors"
)

// ErrNotFound is returned by readers when the source path does not exist.
var ErrNotFound = errors.New("raster not found")

// Dataset is a raster file's bands plus its profile, as read or to be written.
type Dataset struct {
	Profile Profile
	Bands   []*Grid
}

// Reader decodes a georeferenced raster file, reading at most maxBands bands.
type Reader interface {
	Read(ctx context.Context, path string, maxBands int) (*Dataset, error)
}

// Writer encodes a dataset to path using ds.Profile for layout and
// georeferencing. Parent directories must already exist.
type Writer interface {
	Write(ctx context.Context, path string, ds *Dataset) error
}

// ReadWriter is a codec that can do both.
type ReadWriter interface {
	Reader
	Writer
}
