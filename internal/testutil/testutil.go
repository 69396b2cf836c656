// Package testutil provides shared test fixtures: band sets, plots and
// assertion helpers.
package testutil

import (
	"testing"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// UTMProfile returns a 10 m UTM-like profile for a w×h, 7-band uint16 raster.
func UTMProfile(w, h int) raster.Profile {
	return raster.Profile{
		Width:        w,
		Height:       h,
		Count:        len(raster.PositionalOrder),
		DataType:     raster.UInt16,
		GeoTransform: [6]float64{600000, 10, 0, 4500000, 0, -10},
		Projection:   `PROJCS["WGS 84 / UTM zone 33N"]`,
	}
}

// Reflectances is a per-band constant pixel value used to build fixtures.
type Reflectances map[raster.BandID]float32

// Vegetation is a healthy, cloud-free canopy pixel with SCL class 4.
var Vegetation = Reflectances{
	raster.B02: 400,
	raster.B03: 700,
	raster.B04: 2000,
	raster.B05: 3000,
	raster.B08: 8000,
	raster.B11: 2500,
	raster.SCL: 4,
}

// UniformBandSet returns a w×h band set with every band filled with its
// value from r. Bands absent from r are absent from the set.
func UniformBandSet(w, h int, r Reflectances) *raster.BandSet {
	bs := raster.NewBandSet(UTMProfile(w, h))
	for id, v := range r {
		bs.Grids[id] = raster.FilledGrid(w, h, v)
	}
	return bs
}

// Without returns a copy of r lacking the given bands.
func (r Reflectances) Without(ids ...raster.BandID) Reflectances {
	out := make(Reflectances, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, id := range ids {
		delete(out, id)
	}
	return out
}

// With returns a copy of r with one band overridden.
func (r Reflectances) With(id raster.BandID, v float32) Reflectances {
	out := r.Without()
	out[id] = v
	return out
}

// PaintSCL sets the SCL value of the rectangle [x0,x1)×[y0,y1).
func PaintSCL(bs *raster.BandSet, x0, y0, x1, y1 int, class float32) {
	scl := bs.Grids[raster.SCL]
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			scl.Set(x, y, class)
		}
	}
}

// Dataset converts bs to a 7-band dataset in positional order, the layout
// the extractor expects from a downloaded raster.
func Dataset(bs *raster.BandSet) *raster.Dataset {
	ds := &raster.Dataset{Profile: bs.Profile}
	for _, id := range raster.PositionalOrder {
		g, ok := bs.Get(id)
		if !ok {
			break
		}
		ds.Bands = append(ds.Bands, g.Clone())
	}
	ds.Profile.Count = len(ds.Bands)
	ds.Profile.DataType = raster.Float32
	return ds
}
