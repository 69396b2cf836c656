package indices

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/banshee-data/canopy.report/internal/fsutil"
	"github.com/banshee-data/canopy.report/internal/monitoring"
	"github.com/banshee-data/canopy.report/internal/procerr"
	"github.com/banshee-data/canopy.report/internal/raster"
)

// Compression is the GeoTIFF codec used for index outputs.
const Compression = "LZW"

// Calculator computes a fixed set of indices and writes them out.
type Calculator struct {
	Enabled []Kind
	Writer  raster.Writer
	FS      fsutil.FileSystem
}

// NewCalculator returns a Calculator for kinds (DefaultKinds when empty).
func NewCalculator(kinds []Kind, w raster.Writer, fsys fsutil.FileSystem) *Calculator {
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Calculator{Enabled: append([]Kind(nil), kinds...), Writer: w, FS: fsys}
}

// CalculateAll computes every enabled index. The first failure aborts the
// call and no partial results are returned.
func (c *Calculator) CalculateAll(bs *raster.BandSet) (map[Kind]Result, error) {
	out := make(map[Kind]Result, len(c.Enabled))
	for _, k := range c.Enabled {
		res, err := Compute(k, bs)
		if err != nil {
			return nil, procerr.Wrap(procerr.KindIndexComputation, "calculate "+k.String(), err)
		}
		out[k] = res
	}
	return out, nil
}

// SaveIndex writes res to dest with the georeferencing of profile.
// TrueColor is written as three uint16 bands, every other index as one
// float32 band with NaN nodata. Parent directories are created. Failures
// are returned with dest attached and are not retried.
func (c *Calculator) SaveIndex(ctx context.Context, res Result, dest string, profile raster.Profile) error {
	bands := res.Bands()
	if len(bands) == 0 || bands[0] == nil {
		return fmt.Errorf("save %s to %s: empty result", res.Kind, dest)
	}
	var layout raster.Profile
	if res.Kind == TrueColor {
		layout = profile.WithLayout(len(bands), raster.UInt16, Compression)
		layout.NoData = nil
	} else {
		layout = profile.WithLayout(1, raster.Float32, Compression)
		nd := math.NaN()
		layout.NoData = &nd
	}
	layout.Width, layout.Height = bands[0].Width, bands[0].Height

	if err := c.FS.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("save %s to %s: %w", res.Kind, dest, err)
	}
	if err := c.Writer.Write(ctx, dest, &raster.Dataset{Profile: layout, Bands: bands}); err != nil {
		monitoring.Logf("failed to save %s to %s: %v", res.Kind, dest, err)
		return fmt.Errorf("save %s to %s: %w", res.Kind, dest, err)
	}
	return nil
}

// Filename is the output file name for k inside a (plot, date) directory.
func Filename(k Kind) string {
	return k.String() + ".tif"
}
