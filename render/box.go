package render

import (
	"image"
	"image/color"

	"github.com/visionpath/go-imgalign"
	"gocv.io/x/gocv"
)

// BoxStyle defines the parameters for drawing a tracked bounding box
type BoxStyle struct {
	Color     color.RGBA
	Thickness int
	Font      Font
}

// DefaultBoxStyle returns default bounding box drawing settings
func DefaultBoxStyle() BoxStyle {
	return BoxStyle{
		Color:     Red,
		Thickness: 2,
		Font:      DefaultFont(),
	}
}

// TrackedBox draws the tracked bounding box on the image with an
// optional label rendered above it on a filled background
func TrackedBox(img *gocv.Mat, box imgalign.BoundingBox, label string,
	style BoxStyle) {

	rect := image.Rect(int(box.Left), int(box.Top),
		int(box.Right), int(box.Bottom))

	gocv.Rectangle(img, rect, style.Color, style.Thickness)

	if label == "" {
		return
	}

	font := style.Font
	textSize := gocv.GetTextSize(label, font.Face, font.Scale, font.Thickness)

	// filled box sitting on top of the bounding box the label gets
	// written on
	labelRect := image.Rect(
		rect.Min.X-(style.Thickness/2),
		rect.Min.Y-textSize.Y-font.TopPad-font.BottomPad,
		rect.Min.X+textSize.X+font.LeftPad+font.RightPad,
		rect.Min.Y,
	)

	gocv.Rectangle(img, labelRect, style.Color, -1)

	gocv.PutTextWithParams(img, label,
		image.Pt(rect.Min.X+font.LeftPad, rect.Min.Y-font.BottomPad),
		font.Face, font.Scale, font.Color, font.Thickness,
		font.LineType, false)
}
