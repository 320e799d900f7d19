package imgalign

import (
	"fmt"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// WarpModel is the accumulated 2D warp of one tracking call, carried as
// a full 3x3 homogeneous matrix.  Only the six affine degrees of
// freedom are ever solved for, so the bottom row stays [0 0 1] up to
// floating point drift and is renormalised after every composition
type WarpModel struct {
	m *mat.Dense
}

// NewWarpModel returns an identity warp
func NewWarpModel() WarpModel {

	m := mat.NewDense(3, 3, nil)

	for i := 0; i < 3; i++ {
		m.Set(i, i, 1)
	}

	return WarpModel{m: m}
}

// warpIncrement builds the 3x3 incremental warp from the six parameter
// update deltaP, ie [[1+p0, p2, p4], [p1, 1+p3, p5], [0, 0, 1]]
func warpIncrement(deltaP *mat.VecDense) *mat.Dense {

	return mat.NewDense(3, 3, []float64{
		1 + deltaP.AtVec(0), deltaP.AtVec(2), deltaP.AtVec(4),
		deltaP.AtVec(1), 1 + deltaP.AtVec(3), deltaP.AtVec(5),
		0, 0, 1,
	})
}

// ComposeInverse composes the inverse of the incremental warp onto the
// right of the accumulated warp, the inverse compositional update rule.
// Composing with the inverse increment rather than adding parameters is
// what keeps the precomputed Jacobian valid across iterations
func (w WarpModel) ComposeInverse(inc *mat.Dense) error {

	var inv mat.Dense

	if err := inv.Inverse(inc); err != nil {
		return fmt.Errorf("%w: warp increment not invertible: %v",
			ErrSingularSystem, err)
	}

	w.m.Mul(w.m, &inv)
	w.renormalize()

	return nil
}

// renormalize rescales the matrix so the bottom right entry is one and
// clamps the bottom row back to [0 0 1], keeping float drift out of the
// projective terms
func (w WarpModel) renormalize() {

	if s := w.m.At(2, 2); s != 0 && s != 1 {
		w.m.Scale(1/s, w.m)
	}

	w.m.Set(2, 0, 0)
	w.m.Set(2, 1, 0)
	w.m.Set(2, 2, 1)
}

// Apply maps the point (x, y) through the warp in homogeneous
// coordinates with projective de-homogenisation
func (w WarpModel) Apply(x, y float64) (float64, float64) {

	hx := w.m.At(0, 0)*x + w.m.At(0, 1)*y + w.m.At(0, 2)
	hy := w.m.At(1, 0)*x + w.m.At(1, 1)*y + w.m.At(1, 2)
	hz := w.m.At(2, 0)*x + w.m.At(2, 1)*y + w.m.At(2, 2)

	if hz != 0 && hz != 1 {
		hx /= hz
		hy /= hz
	}

	return hx, hy
}

// ApplyToBBox maps the two diagonal corners of box through the warp and
// returns the resulting bounding box
func (w WarpModel) ApplyToBBox(box BoundingBox) BoundingBox {

	x0, y0 := w.Apply(box.Left, box.Top)
	x1, y1 := w.Apply(box.Right, box.Bottom)

	return BoundingBox{
		Top:    y0,
		Left:   x0,
		Bottom: y1,
		Right:  x1,
	}
}

// At returns the warp matrix entry at row i, column j
func (w WarpModel) At(i, j int) float64 {
	return w.m.At(i, j)
}

// toGoCV materialises the top two rows of the warp as a 2x3 CV_64F
// matrix for gocv.WarpAffineWithParams.  The caller owns the returned
// Mat and must Close it
func (w WarpModel) toGoCV() gocv.Mat {

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			m.SetDoubleAt(i, j, w.m.At(i, j))
		}
	}

	return m
}
