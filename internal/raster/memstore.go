package raster

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/canopy.report/internal/fsutil"
)

// MemStore is a Reader/Writer that gob-encodes datasets into a FileSystem.
// It is used in tests and dry runs where libgdal is not available.
type MemStore struct {
	FS fsutil.FileSystem
}

// NewMemStore returns a store backed by fsys, or by a fresh in-memory
// filesystem when fsys is nil.
func NewMemStore(fsys fsutil.FileSystem) *MemStore {
	if fsys == nil {
		fsys = fsutil.NewMemoryFileSystem()
	}
	return &MemStore{FS: fsys}
}

func (m *MemStore) Read(ctx context.Context, path string, maxBands int) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := m.FS.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if maxBands > 0 && len(ds.Bands) > maxBands {
		ds.Bands = ds.Bands[:maxBands]
		ds.Profile.Count = maxBands
	}
	return &ds, nil
}

func (m *MemStore) Write(ctx context.Context, path string, ds *Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ds.Profile.Count != len(ds.Bands) {
		return fmt.Errorf("profile declares %d bands, dataset has %d", ds.Profile.Count, len(ds.Bands))
	}
	out := *ds
	if ds.Profile.DataType == UInt16 {
		out.Bands = make([]*Grid, len(ds.Bands))
		for i, g := range ds.Bands {
			q := NewGrid(g.Width, g.Height)
			for j, v := range ToUint16(g.Data) {
				q.Data[j] = float32(v)
			}
			out.Bands[i] = q
		}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&out); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return m.FS.WriteFile(path, buf.Bytes(), 0644)
}
