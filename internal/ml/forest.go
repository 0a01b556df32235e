package ml

import "math/rand"

// Forest is a bagged ensemble of regression trees: each tree fits a bootstrap
// resample of the training set and predictions average over all trees.
type Forest struct {
	NumTrees int
	MaxDepth int
	trees    []*regressionTree
}

// NewForest creates an unfitted forest.
func NewForest(numTrees, maxDepth int) *Forest {
	return &Forest{NumTrees: numTrees, MaxDepth: maxDepth}
}

// Fit trains all trees on bootstrap resamples drawn from rng.
func (f *Forest) Fit(X [][]float64, y []float64, rng *rand.Rand) {
	n := len(X)
	f.trees = make([]*regressionTree, f.NumTrees)

	for t := range f.trees {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		tree := newRegressionTree(f.MaxDepth)
		tree.fit(X, y, idx)
		f.trees[t] = tree
	}
}

// Predict returns the mean prediction over all trees.
func (f *Forest) Predict(x []float64) float64 {
	var sum float64
	for _, tree := range f.trees {
		sum += tree.predict(x)
	}
	return sum / float64(len(f.trees))
}
