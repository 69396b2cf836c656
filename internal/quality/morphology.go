package quality

import "github.com/banshee-data/canopy.report/internal/raster"

// The structuring element is a k×k square anchored at (k/2, k/2), so for
// even k it covers offsets [-k/2, k/2-1] on each axis. Dilation uses the
// reflected element, which makes Open and Close shape-preserving for
// blocks at least k pixels wide.

func offsets(k int) (lo, hi int) {
	a := k / 2
	return -a, k - 1 - a
}

// Erode keeps a pixel only if every pixel under the element is set.
// Pixels outside the image are clear.
func Erode(m *raster.Mask, k int) *raster.Mask {
	if k <= 1 {
		return m.Clone()
	}
	lo, hi := offsets(k)
	out := raster.NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Set(x, y, allSet(m, x, y, lo, hi))
		}
	}
	return out
}

func allSet(m *raster.Mask, x, y, lo, hi int) bool {
	for dy := lo; dy <= hi; dy++ {
		yy := y + dy
		for dx := lo; dx <= hi; dx++ {
			xx := x + dx
			if xx < 0 || yy < 0 || xx >= m.Width || yy >= m.Height || !m.At(xx, yy) {
				return false
			}
		}
	}
	return true
}

// Dilate sets a pixel if any pixel under the reflected element is set.
// Pixels outside the image are clear.
func Dilate(m *raster.Mask, k int) *raster.Mask {
	if k <= 1 {
		return m.Clone()
	}
	lo, hi := offsets(k)
	out := raster.NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			out.Set(x, y, anySet(m, x, y, -hi, -lo))
		}
	}
	return out
}

func anySet(m *raster.Mask, x, y, lo, hi int) bool {
	for dy := lo; dy <= hi; dy++ {
		yy := y + dy
		if yy < 0 || yy >= m.Height {
			continue
		}
		for dx := lo; dx <= hi; dx++ {
			xx := x + dx
			if xx >= 0 && xx < m.Width && m.At(xx, yy) {
				return true
			}
		}
	}
	return false
}

// Open removes features smaller than the k×k element.
func Open(m *raster.Mask, k int) *raster.Mask {
	return Dilate(Erode(m, k), k)
}

// Close fills gaps smaller than the k×k element. It runs on a copy padded
// by k on every side so mask touching the image edge is neither cleared
// nor grown.
func Close(m *raster.Mask, k int) *raster.Mask {
	if k <= 1 {
		return m.Clone()
	}
	padded := raster.NewMask(m.Width+2*k, m.Height+2*k)
	for y := 0; y < m.Height; y++ {
		copy(padded.Bits[(y+k)*padded.Width+k:], m.Bits[y*m.Width:(y+1)*m.Width])
	}
	closed := Erode(Dilate(padded, k), k)
	out := raster.NewMask(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		copy(out.Bits[y*m.Width:(y+1)*m.Width], closed.Bits[(y+k)*padded.Width+k:])
	}
	return out
}
