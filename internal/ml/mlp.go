package ml

import (
	"math"
	"math/rand"
)

// MLP is a small fully-connected feed-forward regression network: ReLU hidden
// layers, linear output, minibatch Adam on squared error.
type MLP struct {
	Epochs       int
	BatchSize    int
	LearningRate float64

	sizes   []int       // layer widths, input through output
	weights [][]float64 // per layer, row-major [out x in]
	biases  [][]float64

	// Adam state, same shapes as weights/biases.
	mW, vW [][]float64
	mB, vB [][]float64
	step   int
}

// NewMLP creates an unfitted network with the given input width and hidden
// layer widths. The output layer is a single linear unit.
func NewMLP(inputs int, hidden ...int) *MLP {
	sizes := append([]int{inputs}, hidden...)
	sizes = append(sizes, 1)
	return &MLP{
		Epochs:       80,
		BatchSize:    32,
		LearningRate: 1e-3,
		sizes:        sizes,
	}
}

func (m *MLP) init(rng *rand.Rand) {
	layers := len(m.sizes) - 1
	m.weights = make([][]float64, layers)
	m.biases = make([][]float64, layers)
	m.mW = make([][]float64, layers)
	m.vW = make([][]float64, layers)
	m.mB = make([][]float64, layers)
	m.vB = make([][]float64, layers)

	for l := 0; l < layers; l++ {
		in, out := m.sizes[l], m.sizes[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		m.weights[l] = make([]float64, out*in)
		for i := range m.weights[l] {
			m.weights[l][i] = rng.NormFloat64() * scale
		}
		m.biases[l] = make([]float64, out)
		m.mW[l] = make([]float64, out*in)
		m.vW[l] = make([]float64, out*in)
		m.mB[l] = make([]float64, out)
		m.vB[l] = make([]float64, out)
	}
}

// Fit trains the network. Weight initialization and epoch shuffling both draw
// from rng, so training is deterministic for a fixed generator state.
func (m *MLP) Fit(X [][]float64, y []float64, rng *rand.Rand) {
	m.init(rng)

	n := len(X)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	gradW := makeLike(m.weights)
	gradB := makeLike(m.biases)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		for start := 0; start < n; start += m.BatchSize {
			end := start + m.BatchSize
			if end > n {
				end = n
			}
			zero(gradW)
			zero(gradB)

			for _, i := range order[start:end] {
				m.accumulate(X[i], y[i], gradW, gradB)
			}
			m.adamStep(gradW, gradB, float64(end-start))
		}
	}
}

// Predict runs a forward pass and returns the scalar output.
func (m *MLP) Predict(x []float64) float64 {
	a := x
	last := len(m.weights) - 1
	for l := range m.weights {
		a = m.forward(l, a, l != last)
	}
	return a[0]
}

// forward computes one layer's activations, applying ReLU when relu is true.
func (m *MLP) forward(l int, in []float64, relu bool) []float64 {
	out := make([]float64, m.sizes[l+1])
	w := m.weights[l]
	nIn := m.sizes[l]
	for o := range out {
		sum := m.biases[l][o]
		row := w[o*nIn : (o+1)*nIn]
		for i, v := range in {
			sum += row[i] * v
		}
		if relu && sum < 0 {
			sum = 0
		}
		out[o] = sum
	}
	return out
}

// accumulate adds one sample's backpropagated gradients into gradW/gradB.
func (m *MLP) accumulate(x []float64, target float64, gradW, gradB [][]float64) {
	layers := len(m.weights)

	// Forward pass keeping every activation.
	acts := make([][]float64, layers+1)
	acts[0] = x
	for l := 0; l < layers; l++ {
		acts[l+1] = m.forward(l, acts[l], l != layers-1)
	}

	// Output delta for 0.5*(pred-target)^2.
	delta := []float64{acts[layers][0] - target}

	for l := layers - 1; l >= 0; l-- {
		in := acts[l]
		nIn := m.sizes[l]

		for o, d := range delta {
			gradB[l][o] += d
			row := gradW[l][o*nIn : (o+1)*nIn]
			for i, v := range in {
				row[i] += d * v
			}
		}

		if l == 0 {
			break
		}

		// Propagate delta through weights, gating by the ReLU derivative of
		// the previous layer's activations.
		prev := make([]float64, nIn)
		w := m.weights[l]
		for o, d := range delta {
			row := w[o*nIn : (o+1)*nIn]
			for i := range prev {
				prev[i] += d * row[i]
			}
		}
		for i := range prev {
			if in[i] <= 0 {
				prev[i] = 0
			}
		}
		delta = prev
	}
}

// adamStep applies one Adam update with gradients averaged over batchN.
func (m *MLP) adamStep(gradW, gradB [][]float64, batchN float64) {
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	m.step++
	c1 := 1 - math.Pow(beta1, float64(m.step))
	c2 := 1 - math.Pow(beta2, float64(m.step))

	update := func(params, grads, mm, vv []float64) {
		for i := range params {
			g := grads[i] / batchN
			mm[i] = beta1*mm[i] + (1-beta1)*g
			vv[i] = beta2*vv[i] + (1-beta2)*g*g
			mHat := mm[i] / c1
			vHat := vv[i] / c2
			params[i] -= m.LearningRate * mHat / (math.Sqrt(vHat) + eps)
		}
	}

	for l := range m.weights {
		update(m.weights[l], gradW[l], m.mW[l], m.vW[l])
		update(m.biases[l], gradB[l], m.mB[l], m.vB[l])
	}
}

func makeLike(shape [][]float64) [][]float64 {
	out := make([][]float64, len(shape))
	for i, s := range shape {
		out[i] = make([]float64, len(s))
	}
	return out
}

func zero(buf [][]float64) {
	for _, b := range buf {
		for i := range b {
			b[i] = 0
		}
	}
}
