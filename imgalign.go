package imgalign

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultThreshold is the convergence cutoff compared against the
	// norm of the per iteration parameter update
	DefaultThreshold = 0.01875

	// DefaultMaxIters caps the number of Gauss-Newton iterations in one
	// Track call
	DefaultMaxIters = 100
)

// TrackStats reports diagnostics of the most recent Track call.
// Budget exhaustion is not an error, callers needing strict convergence
// inspect Converged and FinalError here
type TrackStats struct {
	// Iterations run before convergence or budget exhaustion
	Iterations int
	// Converged is true when the final parameter update fell below the
	// threshold
	Converged bool
	// InitialError is the L2 norm of the first iteration residual
	InitialError float64
	// FinalError is the L2 norm of the last iteration residual
	FinalError float64
	// DeltaNorm is the L2 norm of the final parameter update
	DeltaNorm float64
}

// ImageAlignment tracks a bounding box between consecutive frames using
// Baker-Matthews inverse compositional image alignment.  The tracker
// owns its images, frames passed in are copied on ingestion so later
// caller side mutation cannot corrupt tracker state.  A tracker is not
// safe for concurrent use, Track calls are inherently sequential since
// each frame aligns against the previous one
type ImageAlignment struct {
	// bbox of the tracked region (top, left, bottom, right)
	bbox BoundingBox
	// templateImage is the previous frame, the alignment reference
	templateImage gocv.Mat
	// currentImage is the newest frame
	currentImage gocv.Mat
	// hasBBox records whether a bounding box has been set
	hasBBox bool
	// hasTemplate records whether templateImage holds a frame
	hasTemplate bool
	// hasCurrent records whether currentImage holds a frame
	hasCurrent bool
	// weightFn reweights the residual each iteration, nil means
	// identity weights
	weightFn WeightFunc
	// stats of the most recent Track call
	stats TrackStats
}

// NewImageAlignment returns an empty tracker.  Set a frame and bounding
// box with Init or the individual setters before calling Track
func NewImageAlignment() *ImageAlignment {
	return &ImageAlignment{}
}

// NewImageAlignmentWithImage returns a tracker primed with an initial
// frame.  A bounding box must still be set before calling Track
func NewImageAlignmentWithImage(img gocv.Mat) (*ImageAlignment, error) {

	a := NewImageAlignment()

	if err := a.SetCurrentImage(img); err != nil {
		return nil, err
	}

	return a, nil
}

// NewImageAlignmentWithBBox returns a tracker primed with a bounding
// box.  An initial frame must still be set before calling Track
func NewImageAlignmentWithBBox(box BoundingBox) (*ImageAlignment, error) {

	a := NewImageAlignment()

	if err := a.SetBBoxRect(box); err != nil {
		return nil, err
	}

	return a, nil
}

// NewImageAlignmentWithImageBBox returns a tracker primed with an
// initial frame and bounding box, ready to Track
func NewImageAlignmentWithImageBBox(img gocv.Mat,
	box BoundingBox) (*ImageAlignment, error) {

	a := NewImageAlignment()

	if err := a.Init(img, box); err != nil {
		return nil, err
	}

	return a, nil
}

// Init sets the initial frame and bounding box in one call
func (a *ImageAlignment) Init(img gocv.Mat, box BoundingBox) error {

	if err := a.SetBBoxRect(box); err != nil {
		return err
	}

	return a.SetCurrentImage(img)
}

// SetBBox sets the tracked bounding box from TLBR coordinates
func (a *ImageAlignment) SetBBox(top, left, bottom, right float64) error {
	return a.SetBBoxRect(NewBoundingBox(top, left, bottom, right))
}

// SetBBoxRect sets the tracked bounding box, rejecting degenerate boxes
func (a *ImageAlignment) SetBBoxRect(box BoundingBox) error {

	if err := box.Validate(); err != nil {
		return err
	}

	a.bbox = box
	a.hasBBox = true

	return nil
}

// BBox returns the current bounding box
func (a *ImageAlignment) BBox() BoundingBox {
	return a.bbox
}

// SetTemplateImage stores a copy of img as the template (previous)
// frame
func (a *ImageAlignment) SetTemplateImage(img gocv.Mat) error {

	if err := validateFrame(img); err != nil {
		return err
	}

	if a.hasTemplate {
		a.templateImage.Close()
	}

	a.templateImage = img.Clone()
	a.hasTemplate = true

	return nil
}

// SetCurrentImage stores a copy of img as the current frame
func (a *ImageAlignment) SetCurrentImage(img gocv.Mat) error {

	if err := validateFrame(img); err != nil {
		return err
	}

	if a.hasCurrent {
		a.currentImage.Close()
	}

	a.currentImage = img.Clone()
	a.hasCurrent = true

	return nil
}

// TemplateImage returns a read only view of the template frame.  The
// tracker retains ownership, callers must not Close it
func (a *ImageAlignment) TemplateImage() gocv.Mat {
	return a.templateImage
}

// CurrentImage returns a read only view of the current frame.  The
// tracker retains ownership, callers must not Close it
func (a *ImageAlignment) CurrentImage() gocv.Mat {
	return a.currentImage
}

// UseWeights sets the robust reweighting function applied to the
// residual each iteration.  Pass nil to restore identity weights
func (a *ImageAlignment) UseWeights(fn WeightFunc) {
	a.weightFn = fn
}

// LastStats returns diagnostics of the most recent Track call
func (a *ImageAlignment) LastStats() TrackStats {
	return a.stats
}

// Close frees the image buffers owned by the tracker
func (a *ImageAlignment) Close() {

	if a.hasTemplate {
		a.templateImage.Close()
		a.hasTemplate = false
	}

	if a.hasCurrent {
		a.currentImage.Close()
		a.hasCurrent = false
	}
}

// Track aligns the tracked region into newImage using the default
// threshold and iteration budget.  See TrackWithParams
func (a *ImageAlignment) Track(newImage gocv.Mat) (BoundingBox, error) {
	return a.TrackWithParams(newImage, DefaultThreshold, DefaultMaxIters)
}

// TrackWithParams rotates the current frame into the template slot,
// aligns the tracked region into newImage with Gauss-Newton refinement
// of an affine warp, and updates the bounding box to the aligned
// position.  The updated box is returned and becomes the region tracked
// by the next call.  On error the tracker state is left untouched
func (a *ImageAlignment) TrackWithParams(newImage gocv.Mat,
	threshold float64, maxIters int) (BoundingBox, error) {

	if !a.hasCurrent {
		return BoundingBox{}, fmt.Errorf("%w: no frame to align against, "+
			"call Init or SetCurrentImage first", ErrImageMismatch)
	}

	if !a.hasBBox {
		return BoundingBox{}, fmt.Errorf("%w: no bounding box set",
			ErrInvalidBoundingBox)
	}

	if err := validateFrame(newImage); err != nil {
		return BoundingBox{}, err
	}

	if newImage.Rows() != a.currentImage.Rows() ||
		newImage.Cols() != a.currentImage.Cols() {
		return BoundingBox{}, fmt.Errorf("%w: frame size %dx%d does not "+
			"match tracked frame size %dx%d", ErrImageMismatch,
			newImage.Cols(), newImage.Rows(),
			a.currentImage.Cols(), a.currentImage.Rows())
	}

	if maxIters < 1 {
		maxIters = 1
	}

	// the previous frame is the alignment reference
	tmpl := a.currentImage

	warp, stats, err := a.refine(tmpl, newImage, threshold, maxIters)

	if err != nil {
		return BoundingBox{}, err
	}

	newBox := warp.ApplyToBBox(a.bbox)

	if err := newBox.Validate(); err != nil {
		return BoundingBox{}, fmt.Errorf("%w: warp collapsed the "+
			"bounding box", ErrImageMismatch)
	}

	if !newBox.inFrame(newImage.Cols(), newImage.Rows()) {
		return BoundingBox{}, fmt.Errorf("%w: bounding box left the frame",
			ErrImageMismatch)
	}

	// commit: previous frame becomes the template, the new frame the
	// current image, and the box moves to the aligned position
	if a.hasTemplate {
		a.templateImage.Close()
	}

	a.templateImage = a.currentImage
	a.hasTemplate = true

	a.currentImage = newImage.Clone()

	a.bbox = newBox
	a.stats = stats

	return newBox, nil
}

// refine runs the inverse compositional Gauss-Newton loop aligning the
// template region into newImage and returns the accumulated warp.  The
// Jacobian and Hessian are built once from the template, only the warp
// estimate changes across iterations
func (a *ImageAlignment) refine(tmpl, newImage gocv.Mat, threshold float64,
	maxIters int) (WarpModel, TrackStats, error) {

	jac, err := BuildJacobian(tmpl, a.bbox)

	if err != nil {
		return WarpModel{}, TrackStats{}, err
	}

	tmplPatch, err := SampleRect(tmpl, a.bbox)

	if err != nil {
		return WarpModel{}, TrackStats{}, err
	}

	warp := NewWarpModel()
	stats := TrackStats{}

	n := jac.GridRows() * jac.GridCols()
	residual := mat.NewVecDense(n, nil)

	warped := gocv.NewMat()
	defer warped.Close()

	frameSize := image.Pt(newImage.Cols(), newImage.Rows())

	for iter := 0; iter < maxIters; iter++ {

		// pull the current frame into the template coordinate frame.
		// WarpInverseMap treats the matrix as the dst to src mapping,
		// the inverse compositional convention
		wm := warp.toGoCV()
		gocv.WarpAffineWithParams(newImage, &warped, wm, frameSize,
			gocv.InterpolationLinear+gocv.WarpInverseMap,
			gocv.BorderReflect101, color.RGBA{})
		wm.Close()

		patch, err := SampleRect(warped, a.bbox)

		if err != nil {
			return WarpModel{}, TrackStats{}, err
		}

		// residual is the flattened warped patch minus template patch
		for r := 0; r < jac.GridRows(); r++ {
			for c := 0; c < jac.GridCols(); c++ {
				residual.SetVec(r*jac.GridCols()+c,
					patch.At(r, c)-tmplPatch.At(r, c))
			}
		}

		errNorm := mat.Norm(residual, 2)

		if iter == 0 {
			stats.InitialError = errNorm
		}
		stats.FinalError = errNorm

		hessian := jac.H
		b := jac.gradient(residual)

		if a.weightFn != nil {
			weights := a.weightFn(residual.RawVector().Data)
			hessian, b, err = jac.reweighted(weights, residual)

			if err != nil {
				return WarpModel{}, TrackStats{}, err
			}
		}

		deltaP, err := solveUpdate(hessian, b)

		if err != nil {
			return WarpModel{}, TrackStats{}, err
		}

		if err := warp.ComposeInverse(warpIncrement(deltaP)); err != nil {
			return WarpModel{}, TrackStats{}, err
		}

		stats.Iterations = iter + 1
		stats.DeltaNorm = mat.Norm(deltaP, 2)

		if stats.DeltaNorm < threshold {
			stats.Converged = true
			break
		}
	}

	return warp, stats, nil
}

// solveUpdate solves hessian * deltaP = b by Cholesky factorization.
// The Hessian of a textureless or under-sized template is rank
// deficient and fails the factorization rather than producing an
// arbitrary update
func solveUpdate(hessian *mat.SymDense, b *mat.VecDense) (*mat.VecDense, error) {

	var chol mat.Cholesky

	if ok := chol.Factorize(hessian); !ok {
		return nil, fmt.Errorf("%w: failed to factorize hessian, template "+
			"region carries too little texture", ErrSingularSystem)
	}

	deltaP := mat.NewVecDense(6, nil)

	if err := chol.SolveVecTo(deltaP, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
	}

	return deltaP, nil
}

// validateFrame checks an input frame is non empty single channel with
// a supported element type
func validateFrame(img gocv.Mat) error {

	if img.Empty() {
		return fmt.Errorf("%w: empty frame", ErrImageMismatch)
	}

	if img.Channels() != 1 {
		return fmt.Errorf("%w: got %d channel frame, tracker aligns "+
			"single channel images", ErrImageMismatch, img.Channels())
	}

	_, err := newPixelReader(img)

	return err
}
