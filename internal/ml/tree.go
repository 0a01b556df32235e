package ml

import "sort"

// regressionTree is a CART-style regression tree: greedy binary splits chosen
// by sum-of-squared-error reduction, mean-value leaves.
type regressionTree struct {
	maxDepth        int
	minSamplesSplit int
	root            *treeNode
}

type treeNode struct {
	leaf      bool
	value     float64 // leaf prediction
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
}

func newRegressionTree(maxDepth int) *regressionTree {
	return &regressionTree{maxDepth: maxDepth, minSamplesSplit: 2}
}

// fit builds the tree over the sample rows selected by idx. idx may contain
// repeats (bootstrap sampling).
func (t *regressionTree) fit(X [][]float64, y []float64, idx []int) {
	t.root = t.build(X, y, idx, 0)
}

func (t *regressionTree) predict(x []float64) float64 {
	node := t.root
	for !node.leaf {
		if x[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.value
}

func (t *regressionTree) build(X [][]float64, y []float64, idx []int, depth int) *treeNode {
	mean := meanAt(y, idx)

	if depth >= t.maxDepth || len(idx) < t.minSamplesSplit {
		return &treeNode{leaf: true, value: mean}
	}

	feature, threshold, ok := t.bestSplit(X, y, idx)
	if !ok {
		return &treeNode{leaf: true, value: mean}
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{leaf: true, value: mean}
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      t.build(X, y, left, depth+1),
		right:     t.build(X, y, right, depth+1),
	}
}

// bestSplit scans every feature with a sorted sweep and prefix sums, returning
// the split with the lowest combined child SSE. ok is false when no split
// improves on the parent (for example a constant target).
func (t *regressionTree) bestSplit(X [][]float64, y []float64, idx []int) (feature int, threshold float64, ok bool) {
	n := len(idx)

	var sumY, sumY2 float64
	for _, i := range idx {
		sumY += y[i]
		sumY2 += y[i] * y[i]
	}
	parentSSE := sumY2 - sumY*sumY/float64(n)

	bestSSE := parentSSE
	const minGain = 1e-12

	nFeatures := len(X[idx[0]])
	sorted := make([]int, n)

	for f := 0; f < nFeatures; f++ {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool {
			return X[sorted[a]][f] < X[sorted[b]][f]
		})

		var leftSum, leftSum2 float64
		for k := 1; k < n; k++ {
			yv := y[sorted[k-1]]
			leftSum += yv
			leftSum2 += yv * yv

			prev := X[sorted[k-1]][f]
			cur := X[sorted[k]][f]
			if cur == prev {
				continue // cannot split between equal values
			}

			rightSum := sumY - leftSum
			rightSum2 := sumY2 - leftSum2
			leftSSE := leftSum2 - leftSum*leftSum/float64(k)
			rightSSE := rightSum2 - rightSum*rightSum/float64(n-k)

			if total := leftSSE + rightSSE; total < bestSSE-minGain {
				bestSSE = total
				feature = f
				threshold = (prev + cur) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}
