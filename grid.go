package imgalign

import (
	"fmt"
	"math"
)

// boxGrid is the linearly spaced sample grid spanning a bounding box.
// Both the patch extractor and the Jacobian builder sample on this
// grid so intensity and gradient values stay registered with each other
type boxGrid struct {
	// xs are the column sample coordinates in image space
	xs []float64
	// ys are the row sample coordinates in image space
	ys []float64
}

// newBoxGrid builds the sample grid for box.  The grid has floor(width)
// columns and floor(height) rows spaced with an n-1 denominator so the
// first and last samples land exactly on the box edges
func newBoxGrid(box BoundingBox) (boxGrid, error) {

	if err := box.Validate(); err != nil {
		return boxGrid{}, err
	}

	cols := int(math.Floor(box.Width()))
	rows := int(math.Floor(box.Height()))

	if cols < 1 || rows < 1 {
		return boxGrid{}, fmt.Errorf("%w: box %gx%g spans less than one pixel",
			ErrInvalidBoundingBox, box.Width(), box.Height())
	}

	return boxGrid{
		xs: linspace(box.Left, box.Width(), cols),
		ys: linspace(box.Top, box.Height(), rows),
	}, nil
}

// size returns the total number of grid samples
func (g boxGrid) size() int {
	return len(g.xs) * len(g.ys)
}

// linspace returns n coordinates from start to start+span inclusive of
// both end points
func linspace(start, span float64, n int) []float64 {

	out := make([]float64, n)

	step := 0.0
	if n > 1 {
		step = span / float64(n-1)
	}

	for i := range out {
		out[i] = start + float64(i)*step
	}

	return out
}
