package ml

// Booster is a gradient-boosted regression tree ensemble: a constant base
// prediction plus a fixed number of shallow trees each fitted to the running
// residuals, shrunk by the learning rate.
type Booster struct {
	Stages       int
	LearningRate float64
	MaxDepth     int

	base  float64
	trees []*regressionTree
}

// NewBooster creates an unfitted booster.
func NewBooster(stages int, learningRate float64, maxDepth int) *Booster {
	return &Booster{Stages: stages, LearningRate: learningRate, MaxDepth: maxDepth}
}

// Fit runs the boosting iterations over the full training set.
func (b *Booster) Fit(X [][]float64, y []float64) {
	n := len(X)

	var sum float64
	for _, v := range y {
		sum += v
	}
	b.base = sum / float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = b.base
	}

	residual := make([]float64, n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	b.trees = make([]*regressionTree, 0, b.Stages)
	for stage := 0; stage < b.Stages; stage++ {
		for i := range residual {
			residual[i] = y[i] - pred[i]
		}

		tree := newRegressionTree(b.MaxDepth)
		tree.fit(X, residual, idx)
		b.trees = append(b.trees, tree)

		for i := range pred {
			pred[i] += b.LearningRate * tree.predict(X[i])
		}
	}
}

// Predict returns the boosted prediction for one feature vector.
func (b *Booster) Predict(x []float64) float64 {
	out := b.base
	for _, tree := range b.trees {
		out += b.LearningRate * tree.predict(x)
	}
	return out
}
