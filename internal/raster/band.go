// Package raster holds the in-memory model of a Sentinel-2 acquisition
// (band grids, cloud mask, georeferencing profile) and the reader/writer
// boundary to the GDAL codec.
package raster

import (
	"fmt"
	"strings"
)

// BandID identifies one band of a Sentinel-2 L2A acquisition.
type BandID int

const (
	B02 BandID = iota + 1 // blue
	B03                   // green
	B04                   // red
	B05                   // red edge
	B08                   // near infrared
	B11                   // short-wave infrared 1
	SCL                   // scene classification
)

// PositionalOrder maps 1-based raster band positions to band identifiers.
// Downloads are requested in this order so the mapping is fixed.
var PositionalOrder = []BandID{B02, B03, B04, B05, B08, B11, SCL}

// MaxBands is the number of bands read from a source raster.
var MaxBands = len(PositionalOrder)

var bandNames = map[BandID]string{
	B02: "B02",
	B03: "B03",
	B04: "B04",
	B05: "B05",
	B08: "B08",
	B11: "B11",
	SCL: "SCL",
}

func (b BandID) String() string {
	if s, ok := bandNames[b]; ok {
		return s
	}
	return fmt.Sprintf("Band(%d)", int(b))
}

// Spectral reports whether b carries reflectance values.
func (b BandID) Spectral() bool {
	_, ok := bandNames[b]
	return ok && b != SCL
}

// ParseBandID resolves a band name such as "B08" or "scl".
func ParseBandID(s string) (BandID, error) {
	for id, name := range bandNames {
		if strings.EqualFold(name, s) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown band %q", s)
}
