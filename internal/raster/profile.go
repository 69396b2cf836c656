package raster

import "fmt"

// DataType is the on-disk pixel encoding of a raster.
type DataType int

const (
	UInt16 DataType = iota + 1
	Float32
)

func (d DataType) String() string {
	switch d {
	case UInt16:
		return "uint16"
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// Profile describes the georeferencing and layout of a raster file.
type Profile struct {
	Width        int
	Height       int
	Count        int
	DataType     DataType
	GeoTransform [6]float64
	Projection   string // WKT
	NoData       *float64
	Compression  string
}

// PixelSize returns the absolute pixel width and height in CRS units.
func (p Profile) PixelSize() (float64, float64) {
	w, h := p.GeoTransform[1], p.GeoTransform[5]
	if w < 0 {
		w = -w
	}
	if h < 0 {
		h = -h
	}
	return w, h
}

// WithLayout returns a copy of p with the band count, pixel type and
// compression overridden; georeferencing is kept.
func (p Profile) WithLayout(count int, dt DataType, compression string) Profile {
	out := p
	out.Count = count
	out.DataType = dt
	out.Compression = compression
	if p.NoData != nil {
		nd := *p.NoData
		out.NoData = &nd
	}
	return out
}
