package imgalign

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// pixelReader reads one pixel as a float64 at integer row and column
// coordinates
type pixelReader func(row, col int) float64

// newPixelReader resolves the element type of img once and returns a
// reader bound to it, so the per pixel sampling path carries no type
// dispatch
func newPixelReader(img gocv.Mat) (pixelReader, error) {

	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageMismatch)
	}

	switch img.Type() {
	case gocv.MatTypeCV8U:
		return func(row, col int) float64 {
			return float64(img.GetUCharAt(row, col))
		}, nil

	case gocv.MatTypeCV32F:
		return func(row, col int) float64 {
			return float64(img.GetFloatAt(row, col))
		}, nil

	case gocv.MatTypeCV64F:
		return func(row, col int) float64 {
			return img.GetDoubleAt(row, col)
		}, nil
	}

	return nil, fmt.Errorf("%w: unsupported image type %d, need single "+
		"channel 8U, 32F or 64F", ErrImageMismatch, img.Type())
}

// reflect101 folds coordinate i into the range [0, n) mirroring at the
// borders without repeating the edge pixel, matching OpenCV
// BORDER_REFLECT_101.  A coordinate of -1 maps to 1 and n maps to n-2
func reflect101(i, n int) int {

	if n == 1 {
		return 0
	}

	period := 2 * (n - 1)

	i %= period
	if i < 0 {
		i += period
	}

	if i >= n {
		i = period - i
	}

	return i
}

// Sample returns the bilinearly interpolated intensity of img at the
// fractional coordinate (x, y).  Coordinates outside the image reflect
// at the borders.  At integer coordinates inside the image the raw
// pixel value is returned exactly
func Sample(img gocv.Mat, x, y float64) (float64, error) {

	read, err := newPixelReader(img)

	if err != nil {
		return 0, err
	}

	return sampleWith(read, img.Rows(), img.Cols(), x, y), nil
}

// sampleWith is the bilinear interpolation core shared by Sample,
// SampleRect and the Jacobian builder.  All geometric sampling in the
// tracker goes through here so border and weighting behaviour cannot
// drift between callers
func sampleWith(read pixelReader, rows, cols int, x, y float64) float64 {

	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))

	dx := x - float64(x0)
	dy := y - float64(y0)

	x0r := reflect101(x0, cols)
	x1r := reflect101(x0+1, cols)
	y0r := reflect101(y0, rows)
	y1r := reflect101(y0+1, rows)

	return (1-dx)*(1-dy)*read(y0r, x0r) +
		dx*(1-dy)*read(y0r, x1r) +
		(1-dx)*dy*read(y1r, x0r) +
		dx*dy*read(y1r, x1r)
}

// SampleRect extracts a dense patch covering box from img by bilinear
// sampling on the shared box grid.  The returned matrix has
// floor(height) rows and floor(width) columns with the last samples
// landing exactly on the far edges of the box
func SampleRect(img gocv.Mat, box BoundingBox) (*mat.Dense, error) {

	read, err := newPixelReader(img)

	if err != nil {
		return nil, err
	}

	grid, err := newBoxGrid(box)

	if err != nil {
		return nil, err
	}

	rows := img.Rows()
	cols := img.Cols()

	patch := mat.NewDense(len(grid.ys), len(grid.xs), nil)

	for r, y := range grid.ys {
		for c, x := range grid.xs {
			patch.Set(r, c, sampleWith(read, rows, cols, x, y))
		}
	}

	return patch, nil
}
