package raster

import (
	"fmt"
	"sort"
)

// BandSet is one acquisition held in memory: the band grids, the source
// profile, and the results of quality filtering once it has run.
type BandSet struct {
	Grids   map[BandID]*Grid
	Profile Profile

	// Set by quality filtering.
	CloudMask      *Mask
	CloudCoverage  *float64
	Quality        *QualityMetrics
	QualityWarning bool
}

// NewBandSet returns an empty band set for the given profile.
func NewBandSet(profile Profile) *BandSet {
	return &BandSet{Grids: make(map[BandID]*Grid), Profile: profile}
}

func (bs *BandSet) Get(id BandID) (*Grid, bool) {
	g, ok := bs.Grids[id]
	return g, ok && g != nil
}

func (bs *BandSet) Has(id BandID) bool {
	_, ok := bs.Get(id)
	return ok
}

// Require returns the grids for ids, or an error naming the first missing band.
func (bs *BandSet) Require(ids ...BandID) ([]*Grid, error) {
	out := make([]*Grid, len(ids))
	for i, id := range ids {
		g, ok := bs.Get(id)
		if !ok {
			return nil, fmt.Errorf("band %s not present", id)
		}
		out[i] = g
	}
	return out, nil
}

// IDs returns the present band identifiers in positional order.
func (bs *BandSet) IDs() []BandID {
	ids := make([]BandID, 0, len(bs.Grids))
	for id, g := range bs.Grids {
		if g != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SpectralIDs returns the present reflectance bands in positional order.
func (bs *BandSet) SpectralIDs() []BandID {
	var ids []BandID
	for _, id := range bs.IDs() {
		if id.Spectral() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Shape returns the common width and height of the grids.
func (bs *BandSet) Shape() (int, int) {
	for _, id := range bs.IDs() {
		g := bs.Grids[id]
		return g.Width, g.Height
	}
	return bs.Profile.Width, bs.Profile.Height
}

// Validate checks that every grid shares one shape.
func (bs *BandSet) Validate() error {
	var ref *Grid
	var refID BandID
	for _, id := range bs.IDs() {
		g := bs.Grids[id]
		if len(g.Data) != g.Width*g.Height {
			return fmt.Errorf("band %s: %d pixels for %dx%d grid", id, len(g.Data), g.Width, g.Height)
		}
		if ref == nil {
			ref, refID = g, id
			continue
		}
		if !g.SameShape(ref) {
			return fmt.Errorf("band %s is %dx%d, band %s is %dx%d",
				id, g.Width, g.Height, refID, ref.Width, ref.Height)
		}
	}
	return nil
}

// Clone deep-copies the grids; profile and quality results are copied by value.
func (bs *BandSet) Clone() *BandSet {
	c := &BandSet{
		Grids:          make(map[BandID]*Grid, len(bs.Grids)),
		Profile:        bs.Profile,
		QualityWarning: bs.QualityWarning,
	}
	for id, g := range bs.Grids {
		if g != nil {
			c.Grids[id] = g.Clone()
		}
	}
	if bs.CloudMask != nil {
		c.CloudMask = bs.CloudMask.Clone()
	}
	if bs.CloudCoverage != nil {
		v := *bs.CloudCoverage
		c.CloudCoverage = &v
	}
	if bs.Quality != nil {
		q := *bs.Quality
		c.Quality = &q
	}
	return c
}
