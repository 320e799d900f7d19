package render

import (
	"image"
	"image/color"
	"sync"

	"github.com/visionpath/go-imgalign"
	"gocv.io/x/gocv"
)

// Point represents the x,y coordinates of the center of a tracked
// bounding box
type Point struct {
	X, Y int
}

// Trail keeps a history of bounding box center points used for drawing
// the path the tracked region has taken
type Trail struct {
	// size is the maximum number of most recent points to keep
	size int
	// history of tracked center points
	points []Point
	sync.Mutex
}

// NewTrail returns a new trail history instance.  Size specifies the
// maximum length of the trail to maintain
func NewTrail(size int) *Trail {
	return &Trail{
		size:   size,
		points: make([]Point, 0, size),
	}
}

// Reset clears all history
func (t *Trail) Reset() {
	t.Lock()
	defer t.Unlock()

	t.points = t.points[:0]
}

// Add records the center point of a tracked bounding box
func (t *Trail) Add(box imgalign.BoundingBox) {
	t.Lock()
	defer t.Unlock()

	t.points = append(t.points, Point{
		X: int(box.CenterX()),
		Y: int(box.CenterY()),
	})

	// drop oldest point once history is exceeded
	if len(t.points) > t.size {
		t.points = t.points[1:]
	}
}

// GetPoints returns the recorded center point history
func (t *Trail) GetPoints() []Point {
	t.Lock()
	defer t.Unlock()

	out := make([]Point, len(t.points))
	copy(out, t.points)

	return out
}

// TrailStyle defines the parameters used for rendering the trail
type TrailStyle struct {
	LineColor     color.RGBA
	LineThickness int
	CircleColor   color.RGBA
	CircleRadius  int
}

// DefaultTrailStyle returns default trail style settings
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		LineColor:     Yellow,
		LineThickness: 1,
		CircleColor:   Pink,
		CircleRadius:  3,
	}
}

// TrailLine draws the tracking history on the source image as line
// segments between successive center points, with a circle on the
// newest point
func TrailLine(img *gocv.Mat, trail *Trail, style TrailStyle) {

	points := trail.GetPoints()

	if len(points) < 2 {
		return
	}

	for i := 1; i < len(points); i++ {
		gocv.Line(img,
			image.Pt(points[i-1].X, points[i-1].Y),
			image.Pt(points[i].X, points[i].Y),
			style.LineColor, style.LineThickness,
		)
	}

	last := points[len(points)-1]
	gocv.Circle(img, image.Pt(last.X, last.Y),
		style.CircleRadius, style.CircleColor, -1)
}
