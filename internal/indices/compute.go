package indices

import (
	"fmt"
	"math"

	"github.com/banshee-data/canopy.report/internal/raster"
)

// reflectanceScale converts L2A digital numbers to surface reflectance.
const reflectanceScale = 10000.0

// Result is a computed index: a single grid, or a three-band stack for
// TrueColor.
type Result struct {
	Kind  Kind
	Grid  *raster.Grid
	Stack []*raster.Grid
}

// Bands returns the grids to write, in band order.
func (r Result) Bands() []*raster.Grid {
	if r.Kind == TrueColor {
		return r.Stack
	}
	return []*raster.Grid{r.Grid}
}

// Compute derives index k from bs. A missing input band is an error.
func Compute(k Kind, bs *raster.BandSet) (Result, error) {
	p, ok := provenance[k]
	if !ok {
		return Result{}, fmt.Errorf("unsupported index %s", k)
	}
	grids, err := bs.Require(p.Bands...)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", k, err)
	}
	for _, g := range grids[1:] {
		if !g.SameShape(grids[0]) {
			return Result{}, fmt.Errorf("%s: input bands differ in shape", k)
		}
	}

	switch k {
	case NDVI, NDRE, NDWI:
		return Result{Kind: k, Grid: normalizedDifference(grids[0], grids[1], false)}, nil
	case NDMI:
		return Result{Kind: k, Grid: normalizedDifference(grids[0], grids[1], true)}, nil
	case MSAVI:
		return Result{Kind: k, Grid: msavi(grids[0], grids[1])}, nil
	case TrueColor:
		stack := make([]*raster.Grid, len(grids))
		for i, g := range grids {
			stack[i] = g.Clone()
		}
		return Result{Kind: k, Stack: stack}, nil
	}
	return Result{}, fmt.Errorf("unsupported index %s", k)
}

// normalizedDifference computes (a-b)/(a+b). A zero denominator yields 0;
// NaN inputs yield NaN.
func normalizedDifference(a, b *raster.Grid, clamp bool) *raster.Grid {
	out := raster.NewGrid(a.Width, a.Height)
	for i := range out.Data {
		x, y := float64(a.Data[i]), float64(b.Data[i])
		den := x + y
		if den == 0 {
			continue
		}
		v := (x - y) / den
		if clamp {
			v = clampRange(v, -1, 1)
		}
		out.Data[i] = float32(v)
	}
	return out
}

func msavi(nirGrid, redGrid *raster.Grid) *raster.Grid {
	out := raster.NewGrid(nirGrid.Width, nirGrid.Height)
	for i := range out.Data {
		nir := float64(nirGrid.Data[i]) / reflectanceScale
		red := float64(redGrid.Data[i]) / reflectanceScale
		a := 2*nir + 1
		v := (a - math.Sqrt(a*a-8*(nir-red))) / 2
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		out.Data[i] = float32(clampRange(v, 0, 1))
	}
	return out
}

// clampRange bounds v to [lo, hi]; NaN passes through.
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
