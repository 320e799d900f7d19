package imgalign

import "errors"

var (
	// ErrInvalidBoundingBox is returned when a bounding box with non
	// positive width or height is supplied
	ErrInvalidBoundingBox = errors.New("invalid bounding box")

	// ErrImageMismatch is returned when an image is empty, has an
	// unsupported element type, or its dimensions are incompatible with
	// the tracker state
	ErrImageMismatch = errors.New("image mismatch")

	// ErrSingularSystem is returned when the Gauss-Newton normal
	// equations cannot be solved, eg: a textureless template or a box
	// too small to constrain six warp parameters
	ErrSingularSystem = errors.New("singular system")
)
