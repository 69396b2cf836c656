package raster

import (
	"fmt"
	"math"
)

// Grid is a row-major float32 raster. NaN marks missing pixels.
type Grid struct {
	Width  int
	Height int
	Data   []float32
}

// NewGrid returns a zero-filled grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Data: make([]float32, width*height)}
}

// FilledGrid returns a grid with every pixel set to v.
func FilledGrid(width, height int, v float32) *Grid {
	g := NewGrid(width, height)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// GridFromRows builds a grid from a slice of equal-length rows.
func GridFromRows(rows [][]float32) (*Grid, error) {
	if len(rows) == 0 {
		return NewGrid(0, 0), nil
	}
	w := len(rows[0])
	g := NewGrid(w, len(rows))
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("row %d has %d columns, want %d", y, len(row), w)
		}
		copy(g.Data[y*w:], row)
	}
	return g, nil
}

func (g *Grid) Len() int { return g.Width * g.Height }

func (g *Grid) At(x, y int) float32 { return g.Data[y*g.Width+x] }

func (g *Grid) Set(x, y int, v float32) { g.Data[y*g.Width+x] = v }

// SameShape reports whether g and o have identical dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g != nil && o != nil && g.Width == o.Width && g.Height == o.Height
}

func (g *Grid) Clone() *Grid {
	c := &Grid{Width: g.Width, Height: g.Height, Data: make([]float32, len(g.Data))}
	copy(c.Data, g.Data)
	return c
}

// ValidCount returns the number of non-NaN pixels.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(float64(v)) {
			n++
		}
	}
	return n
}

// Float64s returns the non-NaN pixels widened to float64.
func (g *Grid) Float64s() []float64 {
	out := make([]float64, 0, len(g.Data))
	for _, v := range g.Data {
		if !math.IsNaN(float64(v)) {
			out = append(out, float64(v))
		}
	}
	return out
}

// Mask is a row-major boolean raster; true marks a masked pixel.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// MaskFromRows builds a mask from rows of 0/1 values.
func MaskFromRows(rows [][]int) *Mask {
	if len(rows) == 0 {
		return NewMask(0, 0)
	}
	m := NewMask(len(rows[0]), len(rows))
	for y, row := range rows {
		for x, v := range row {
			m.Bits[y*m.Width+x] = v != 0
		}
	}
	return m
}

func (m *Mask) At(x, y int) bool { return m.Bits[y*m.Width+x] }

func (m *Mask) Set(x, y int, v bool) { m.Bits[y*m.Width+x] = v }

// Count returns the number of masked pixels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b {
			n++
		}
	}
	return n
}

// Union sets every pixel that is masked in o.
func (m *Mask) Union(o *Mask) {
	for i, b := range o.Bits {
		if b {
			m.Bits[i] = true
		}
	}
}

func (m *Mask) Clone() *Mask {
	c := &Mask{Width: m.Width, Height: m.Height, Bits: make([]bool, len(m.Bits))}
	copy(c.Bits, m.Bits)
	return c
}
