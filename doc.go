/*
go-imgalign tracks a rectangular region of interest across consecutive
video frames using the Baker-Matthews inverse compositional image
alignment algorithm.

The tracker holds the previous frame as the alignment template and runs
a Gauss-Newton refinement of a six parameter affine warp between the
template region and the newest frame.  Because the formulation is
inverse compositional the alignment Jacobian and Hessian are computed
once per frame on the template and reused unchanged across all
refinement iterations.

Image gradients and geometric warping are delegated to OpenCV through
the gocv bindings, dense matrix algebra to gonum.

See example code and usage in the example subdirectory.
*/
package imgalign
