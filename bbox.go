package imgalign

import "fmt"

// BoundingBox is an axis aligned rectangle in image coordinates using
// TLBR (top, left, bottom, right) ordering.  Coordinates are kept as
// floats so boxes can sit at sub pixel positions between frames
type BoundingBox struct {
	Top    float64
	Left   float64
	Bottom float64
	Right  float64
}

// NewBoundingBox creates a new BoundingBox with the given coordinates
func NewBoundingBox(top, left, bottom, right float64) BoundingBox {
	return BoundingBox{
		Top:    top,
		Left:   left,
		Bottom: bottom,
		Right:  right,
	}
}

// Width returns the width of the bounding box
func (b BoundingBox) Width() float64 {
	return b.Right - b.Left
}

// Height returns the height of the bounding box
func (b BoundingBox) Height() float64 {
	return b.Bottom - b.Top
}

// CenterX returns the x coordinate of the bounding box center
func (b BoundingBox) CenterX() float64 {
	return (b.Left + b.Right) / 2
}

// CenterY returns the y coordinate of the bounding box center
func (b BoundingBox) CenterY() float64 {
	return (b.Top + b.Bottom) / 2
}

// Shift returns a copy of the bounding box translated by dx and dy
func (b BoundingBox) Shift(dx, dy float64) BoundingBox {
	return BoundingBox{
		Top:    b.Top + dy,
		Left:   b.Left + dx,
		Bottom: b.Bottom + dy,
		Right:  b.Right + dx,
	}
}

// Validate checks the bounding box has strictly positive width and
// height
func (b BoundingBox) Validate() error {

	if b.Right <= b.Left || b.Bottom <= b.Top {
		return fmt.Errorf("%w: top=%g left=%g bottom=%g right=%g",
			ErrInvalidBoundingBox, b.Top, b.Left, b.Bottom, b.Right)
	}

	return nil
}

// inFrame reports whether any part of the bounding box overlaps a frame
// of the given size
func (b BoundingBox) inFrame(cols, rows int) bool {
	return b.Right > 0 && b.Left < float64(cols) &&
		b.Bottom > 0 && b.Top < float64(rows)
}
