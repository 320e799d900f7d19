package imgalign

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// sobelScale normalises the 3x3 Sobel response, which sums to 8 for a
// unit intensity step, so sampled gradients approximate central
// differences at unit pixel spacing
const sobelScale = 1.0 / 8.0

// Jacobian holds the steepest descent rows and Gauss-Newton Hessian
// precomputed from the template image for one tracking call.  In the
// inverse compositional formulation both stay fixed across all
// refinement iterations
type Jacobian struct {
	// J is the N x 6 matrix of steepest descent rows, one per grid
	// sample inside the bounding box
	J *mat.Dense
	// H is the 6x6 Gauss-Newton Hessian J^T J with identity weights
	H *mat.SymDense
	// gridRows and gridCols are the sample grid dimensions
	gridRows int
	gridCols int
}

// BuildJacobian computes x and y Sobel gradients over the full template
// image, samples them on the box grid and assembles the steepest
// descent rows delI * dW/dp for the six parameter affine warp, plus the
// Hessian.  Grid coordinates are absolute image coordinates, the same
// frame the warp is applied in
func BuildJacobian(tmpl gocv.Mat, box BoundingBox) (*Jacobian, error) {

	grid, err := newBoxGrid(box)

	if err != nil {
		return nil, err
	}

	if _, err := newPixelReader(tmpl); err != nil {
		return nil, fmt.Errorf("template image: %w", err)
	}

	gradX := gocv.NewMat()
	defer gradX.Close()

	gradY := gocv.NewMat()
	defer gradY.Close()

	gocv.Sobel(tmpl, &gradX, gocv.MatTypeCV64F, 1, 0, 3, sobelScale, 0,
		gocv.BorderReflect101)
	gocv.Sobel(tmpl, &gradY, gocv.MatTypeCV64F, 0, 1, 3, sobelScale, 0,
		gocv.BorderReflect101)

	readX, err := newPixelReader(gradX)

	if err != nil {
		return nil, fmt.Errorf("gradient image: %w", err)
	}

	readY, err := newPixelReader(gradY)

	if err != nil {
		return nil, fmt.Errorf("gradient image: %w", err)
	}

	rows := tmpl.Rows()
	cols := tmpl.Cols()

	J := mat.NewDense(grid.size(), 6, nil)

	// each grid row fills a disjoint band of J so the bands can be
	// built in parallel
	var wg sync.WaitGroup

	for r, y := range grid.ys {
		wg.Add(1)

		go func(r int, y float64) {
			defer wg.Done()

			for c, x := range grid.xs {

				ix := sampleWith(readX, rows, cols, x, y)
				iy := sampleWith(readY, rows, cols, x, y)

				// steepest descent row delI * dW/dp where dW/dp is
				// [[x,0,y,0,1,0],[0,x,0,y,0,1]]
				i := r*len(grid.xs) + c
				J.Set(i, 0, ix*x)
				J.Set(i, 1, iy*x)
				J.Set(i, 2, ix*y)
				J.Set(i, 3, iy*y)
				J.Set(i, 4, ix)
				J.Set(i, 5, iy)
			}
		}(r, y)
	}

	wg.Wait()

	var jtj mat.Dense
	jtj.Mul(J.T(), J)

	return &Jacobian{
		J:        J,
		H:        symFromDense(&jtj),
		gridRows: len(grid.ys),
		gridCols: len(grid.xs),
	}, nil
}

// GridRows returns the number of sample rows inside the bounding box
func (j *Jacobian) GridRows() int {
	return j.gridRows
}

// GridCols returns the number of sample columns inside the bounding box
func (j *Jacobian) GridCols() int {
	return j.gridCols
}

// gradient computes b = J^T e for the residual vector
func (j *Jacobian) gradient(residual *mat.VecDense) *mat.VecDense {

	b := mat.NewVecDense(6, nil)
	b.MulVec(j.J.T(), residual)

	return b
}

// reweighted rebuilds the Hessian and gradient with per sample weights,
// ie H = J^T W J and b = J^T W e for diagonal W
func (j *Jacobian) reweighted(weights []float64,
	residual *mat.VecDense) (*mat.SymDense, *mat.VecDense, error) {

	n, _ := j.J.Dims()

	if len(weights) != n {
		return nil, nil, fmt.Errorf("weight function returned %d weights "+
			"for %d samples", len(weights), n)
	}

	wj := mat.NewDense(n, 6, nil)

	for i := 0; i < n; i++ {
		for k := 0; k < 6; k++ {
			wj.Set(i, k, weights[i]*j.J.At(i, k))
		}
	}

	var h mat.Dense
	h.Mul(j.J.T(), wj)

	b := mat.NewVecDense(6, nil)
	b.MulVec(wj.T(), residual)

	return symFromDense(&h), b, nil
}

// symFromDense copies the upper triangle of a symmetric Dense matrix
// into a SymDense
func symFromDense(d *mat.Dense) *mat.SymDense {

	n, _ := d.Dims()
	s := mat.NewSymDense(n, nil)

	for i := 0; i < n; i++ {
		for k := i; k < n; k++ {
			s.SetSym(i, k, d.At(i, k))
		}
	}

	return s
}
