// Package gdal is the libgdal-backed raster codec and the only package
// in the module that needs cgo.
package gdal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/banshee-data/canopy.report/internal/raster"
)

var registerOnce sync.Once

// Codec reads and writes GeoTIFFs through libgdal.
type Codec struct{}

// New registers the GDAL drivers once per process.
func New() *Codec {
	registerOnce.Do(godal.RegisterAll)
	return &Codec{}
}

func (Codec) Read(ctx context.Context, path string, maxBands int) (*raster.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, raster.ErrNotFound)
	}

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer ds.Close()

	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		// Ungeoreferenced rasters get GDAL's default identity transform.
		gt = [6]float64{0, 1, 0, 0, 0, 1}
	}

	bands := ds.Bands()
	n := len(bands)
	if maxBands > 0 && n > maxBands {
		n = maxBands
	}

	out := &raster.Dataset{
		Profile: raster.Profile{
			Width:        st.SizeX,
			Height:       st.SizeY,
			Count:        n,
			DataType:     fromGDALType(st.DataType),
			GeoTransform: gt,
			Projection:   ds.Projection(),
		},
		Bands: make([]*raster.Grid, 0, n),
	}
	if n > 0 {
		if nd, ok := bands[0].NoData(); ok {
			out.Profile.NoData = &nd
		}
	}

	for i := 0; i < n; i++ {
		g := raster.NewGrid(st.SizeX, st.SizeY)
		if err := bands[i].Read(0, 0, g.Data, st.SizeX, st.SizeY); err != nil {
			return nil, fmt.Errorf("read band %d of %s: %w", i+1, path, err)
		}
		out.Bands = append(out.Bands, g)
	}
	return out, nil
}

func (Codec) Write(ctx context.Context, path string, ds *raster.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := ds.Profile
	if p.Count != len(ds.Bands) {
		return fmt.Errorf("profile declares %d bands, dataset has %d", p.Count, len(ds.Bands))
	}

	var opts []string
	if p.Compression != "" {
		opts = append(opts, "COMPRESS="+p.Compression)
	}
	out, err := godal.Create(godal.GTiff, path, p.Count, toGDALType(p.DataType), p.Width, p.Height,
		godal.CreationOption(opts...))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := out.SetGeoTransform(p.GeoTransform); err != nil {
		out.Close()
		return fmt.Errorf("set geotransform on %s: %w", path, err)
	}
	if p.Projection != "" {
		if err := out.SetProjection(p.Projection); err != nil {
			out.Close()
			return fmt.Errorf("set projection on %s: %w", path, err)
		}
	}

	for i, band := range out.Bands() {
		g := ds.Bands[i]
		if p.NoData != nil {
			if err := band.SetNoData(*p.NoData); err != nil {
				out.Close()
				return fmt.Errorf("set nodata on band %d of %s: %w", i+1, path, err)
			}
		}
		var buf interface{} = g.Data
		if p.DataType == raster.UInt16 {
			buf = raster.ToUint16(g.Data)
		}
		if err := band.Write(0, 0, buf, g.Width, g.Height); err != nil {
			out.Close()
			return fmt.Errorf("write band %d of %s: %w", i+1, path, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func toGDALType(dt raster.DataType) godal.DataType {
	if dt == raster.UInt16 {
		return godal.UInt16
	}
	return godal.Float32
}

func fromGDALType(dt godal.DataType) raster.DataType {
	if dt == godal.UInt16 {
		return raster.UInt16
	}
	return raster.Float32
}
