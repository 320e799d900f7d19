package imgalign

import (
	"errors"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

// synthImage renders f over a rows x cols CV_64F image
func synthImage(rows, cols int, f func(x, y float64) float64) gocv.Mat {

	img := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.SetDoubleAt(r, c, f(float64(c), float64(r)))
		}
	}

	return img
}

// rampImage returns a 5x5 image whose pixel value encodes its
// coordinates as 10*row + col
func rampImage(t gocv.MatType) gocv.Mat {

	img := gocv.NewMatWithSize(5, 5, t)

	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			v := float64(10*r + c)

			switch t {
			case gocv.MatTypeCV8U:
				img.SetUCharAt(r, c, uint8(v))
			case gocv.MatTypeCV32F:
				img.SetFloatAt(r, c, float32(v))
			default:
				img.SetDoubleAt(r, c, v)
			}
		}
	}

	return img
}

func TestReflect101(t *testing.T) {

	cases := [][3]int{
		// i, n, want
		{0, 5, 0},
		{4, 5, 4},
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{-1, 1, 0},
	}

	for _, c := range cases {
		if got := reflect101(c[0], c[1]); got != c[2] {
			t.Errorf("reflect101(%d, %d): expected %d, got %d",
				c[0], c[1], c[2], got)
		}
	}
}

func TestSampleIntegerExactness(t *testing.T) {

	img := rampImage(gocv.MatTypeCV64F)
	defer img.Close()

	// at integer coordinates the weights degenerate to one corner and
	// the raw pixel value comes back exactly
	got, err := Sample(img, 3, 2)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if got != 23 {
		t.Errorf("expected 23, got %v", got)
	}
}

func TestSampleBilinearMidpoint(t *testing.T) {

	img := rampImage(gocv.MatTypeCV64F)
	defer img.Close()

	// halfway between columns 1 and 2 on row 0
	got, err := Sample(img, 1.5, 0)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if math.Abs(got-1.5) > 1e-12 {
		t.Errorf("expected 1.5, got %v", got)
	}

	// center of the four pixels (1,1) (2,1) (1,2) (2,2)
	got, err = Sample(img, 1.5, 1.5)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if math.Abs(got-16.5) > 1e-12 {
		t.Errorf("expected 16.5, got %v", got)
	}
}

func TestSampleBorderReflection(t *testing.T) {

	img := rampImage(gocv.MatTypeCV64F)
	defer img.Close()

	// one step outside the left edge reflects to column 1, not to the
	// edge pixel and not to zero
	got, err := Sample(img, -1, 2)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if got != 21 {
		t.Errorf("expected 21 (column 1), got %v", got)
	}

	// one step outside the right edge reflects to column 3
	got, err = Sample(img, 5, 2)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if got != 23 {
		t.Errorf("expected 23 (column 3), got %v", got)
	}

	// one step above the top edge reflects to row 1
	got, err = Sample(img, 2, -1)

	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	if got != 12 {
		t.Errorf("expected 12 (row 1), got %v", got)
	}
}

func TestSampleTypeDispatch(t *testing.T) {

	for _, mt := range []gocv.MatType{gocv.MatTypeCV8U, gocv.MatTypeCV32F,
		gocv.MatTypeCV64F} {

		img := rampImage(mt)

		got, err := Sample(img, 2.5, 1)

		if err != nil {
			t.Errorf("type %d: sample failed: %v", mt, err)
		}

		if math.Abs(got-12.5) > 1e-5 {
			t.Errorf("type %d: expected 12.5, got %v", mt, got)
		}

		img.Close()
	}

	// unsupported element type is rejected at the boundary
	img := gocv.NewMatWithSize(5, 5, gocv.MatTypeCV16U)
	defer img.Close()

	_, err := Sample(img, 1, 1)

	if !errors.Is(err, ErrImageMismatch) {
		t.Errorf("expected ErrImageMismatch, got %v", err)
	}
}

func TestSampleRectGridRegistration(t *testing.T) {

	img := rampImage(gocv.MatTypeCV64F)
	defer img.Close()

	patch, err := SampleRect(img, NewBoundingBox(0, 0, 4, 4))

	if err != nil {
		t.Fatalf("sampleRect failed: %v", err)
	}

	rows, cols := patch.Dims()

	if rows != 4 || cols != 4 {
		t.Fatalf("expected 4x4 patch, got %dx%d", rows, cols)
	}

	// first sample sits on the near edge, the n-1 spacing puts the last
	// sample exactly on the far edge of the box
	if patch.At(0, 0) != 0 {
		t.Errorf("expected first sample 0, got %v", patch.At(0, 0))
	}

	if patch.At(3, 3) != 44 {
		t.Errorf("expected last sample 44, got %v", patch.At(3, 3))
	}
}

func TestSampleRectSubPixelBox(t *testing.T) {

	img := synthImage(20, 20, func(x, y float64) float64 {
		return 2*x + 3*y
	})
	defer img.Close()

	// on a linear ramp bilinear interpolation is exact at fractional
	// coordinates
	patch, err := SampleRect(img, NewBoundingBox(2.5, 3.5, 8.5, 9.5))

	if err != nil {
		t.Fatalf("sampleRect failed: %v", err)
	}

	rows, cols := patch.Dims()

	if rows != 6 || cols != 6 {
		t.Fatalf("expected 6x6 patch, got %dx%d", rows, cols)
	}

	if math.Abs(patch.At(0, 0)-(2*3.5+3*2.5)) > 1e-12 {
		t.Errorf("expected %v, got %v", 2*3.5+3*2.5, patch.At(0, 0))
	}

	if math.Abs(patch.At(5, 5)-(2*9.5+3*8.5)) > 1e-12 {
		t.Errorf("expected %v, got %v", 2*9.5+3*8.5, patch.At(5, 5))
	}
}

func TestSampleRectRejectsTinyBox(t *testing.T) {

	img := rampImage(gocv.MatTypeCV64F)
	defer img.Close()

	// spans less than one pixel in each direction
	_, err := SampleRect(img, NewBoundingBox(1, 1, 1.5, 1.5))

	if !errors.Is(err, ErrInvalidBoundingBox) {
		t.Errorf("expected ErrInvalidBoundingBox, got %v", err)
	}
}

func TestLinspace(t *testing.T) {

	xs := linspace(10, 6, 4)

	want := []float64{10, 12, 14, 16}

	for i := range want {
		if math.Abs(xs[i]-want[i]) > 1e-12 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], xs[i])
		}
	}

	// single sample grid degenerates to the start coordinate
	xs = linspace(5, 3, 1)

	if len(xs) != 1 || xs[0] != 5 {
		t.Errorf("expected [5], got %v", xs)
	}
}
