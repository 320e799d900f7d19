package imgalign

// WeightFunc maps a per sample residual vector to per sample weights.
// It is the hook for robust M-estimator reweighting of the Gauss-Newton
// normal equations.  When a tracker has no WeightFunc set every sample
// carries a weight of one and the Hessian is computed once per frame;
// with a WeightFunc the Hessian and gradient are rebuilt each iteration
// from the reweighted residual
type WeightFunc func(residual []float64) []float64

// IdentityWeights returns a weight of one for every sample.  It is
// equivalent to passing no weight function at all and exists so callers
// can restore default behaviour after experimenting with an estimator
func IdentityWeights(residual []float64) []float64 {

	w := make([]float64, len(residual))

	for i := range w {
		w[i] = 1
	}

	return w
}
