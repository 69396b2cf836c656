// Package indices computes vegetation indices from a quality-filtered band
// set and writes each one as a GeoTIFF.
package indices

import (
	"fmt"
	"strings"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// Kind identifies a vegetation index.
type Kind int

const (
	NDVI Kind = iota + 1
	NDRE
	NDWI
	NDMI
	MSAVI
	TrueColor
)

// AllKinds lists every supported index in a stable order.
var AllKinds = []Kind{NDVI, NDRE, NDWI, NDMI, MSAVI, TrueColor}

// DefaultKinds is the index set computed when none is configured.
var DefaultKinds = []Kind{NDVI, NDRE, MSAVI, NDMI, TrueColor}

// Provenance documents how an index is derived.
type Provenance struct {
	Formula    string          `json:"formula"`
	Bands      []raster.BandID `json:"-"`
	BandNames  []string        `json:"bands_used"`
	ValidRange string          `json:"valid_range"`
	Purpose    string          `json:"purpose"`
}

var provenance = map[Kind]Provenance{
	NDVI: {
		Formula:    "(NIR - RED) / (NIR + RED)",
		Bands:      []raster.BandID{raster.B08, raster.B04},
		ValidRange: "[-1, 1]",
		Purpose:    "General vegetation health and biomass",
	},
	NDRE: {
		Formula:    "(NIR - RedEdge) / (NIR + RedEdge)",
		Bands:      []raster.BandID{raster.B08, raster.B05},
		ValidRange: "[-1, 1]",
		Purpose:    "Chlorophyll content and nitrogen stress in dense canopy",
	},
	NDWI: {
		Formula:    "(GREEN - NIR) / (GREEN + NIR)",
		Bands:      []raster.BandID{raster.B03, raster.B08},
		ValidRange: "[-1, 1]",
		Purpose:    "Surface water and waterlogging",
	},
	NDMI: {
		Formula:    "(NIR - SWIR1) / (NIR + SWIR1)",
		Bands:      []raster.BandID{raster.B08, raster.B11},
		ValidRange: "[-1, 1]",
		Purpose:    "Vegetation water content and drought stress",
	},
	MSAVI: {
		Formula:    "(2*NIR + 1 - sqrt((2*NIR + 1)^2 - 8*(NIR - RED))) / 2",
		Bands:      []raster.BandID{raster.B08, raster.B04},
		ValidRange: "[0, 1]",
		Purpose:    "Vegetation cover where soil is exposed",
	},
	TrueColor: {
		Formula:    "RGB composite (RED, GREEN, BLUE)",
		Bands:      []raster.BandID{raster.B04, raster.B03, raster.B02},
		ValidRange: "[0, 65535]",
		Purpose:    "Visual inspection",
	},
}

// Info returns the provenance of k.
func Info(k Kind) Provenance {
	p := provenance[k]
	p.BandNames = make([]string, len(p.Bands))
	for i, b := range p.Bands {
		p.BandNames[i] = b.String()
	}
	return p
}

func (k Kind) String() string {
	switch k {
	case NDVI:
		return "NDVI"
	case NDRE:
		return "NDRE"
	case NDWI:
		return "NDWI"
	case NDMI:
		return "NDMI"
	case MSAVI:
		return "MSAVI"
	case TrueColor:
		return "TrueColor"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves an index name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if strings.EqualFold(k.String(), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown index %q", s)
}

// ParseKinds resolves a list of names, rejecting duplicates.
func ParseKinds(names []string) ([]Kind, error) {
	seen := make(map[Kind]bool, len(names))
	out := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, fmt.Errorf("index %s listed twice", k)
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
