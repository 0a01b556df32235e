// Package ml implements the decay ensemble: three regression models trained
// on the synthetic drag dataset, blended with fixed weights into a single
// decay-rate estimate.
//
// The regressors are implemented in-package (a bagged tree forest, a
// gradient-boosted tree ensemble, and a small feed-forward network) so the
// trained behavior is fully reproducible from the dataset seed alone.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/debrisk/debrisk/internal/decay"
	"github.com/debrisk/debrisk/internal/metrics"
)

// Model names used in metrics maps and the info endpoint.
const (
	ModelForest  = "random_forest"
	ModelBoost   = "gradient_boosting"
	ModelNetwork = "neural_network"
)

// Blend weights. The tree ensembles carry most of the signal; the network is
// a smoothing term.
const (
	weightForest  = 0.4
	weightBoost   = 0.4
	weightNetwork = 0.2
)

// Prediction defaults for callers that only know the orbital elements.
const (
	DefaultMassKG    = 1000.0
	DefaultAreaM2    = 10.0
	DefaultSolarFlux = 150.0
)

// Config controls training.
type Config struct {
	TrainingSamples int   // dataset size when Train is called with n <= 0
	Seed            int64 // dataset, split, and model init seed
}

// ModelMetrics holds one model's held-out evaluation results.
type ModelMetrics struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2_score"`
}

// Info describes the ensemble for the model-info endpoint.
type Info struct {
	Trained      bool                    `json:"is_trained"`
	SampleCount  int                     `json:"sample_count,omitempty"`
	TrainedAt    *time.Time              `json:"trained_at,omitempty"`
	FeatureNames []string                `json:"feature_names"`
	Weights      map[string]float64      `json:"ensemble_weights"`
	Metrics      map[string]ModelMetrics `json:"metrics,omitempty"`
}

// modelState is the immutable result of one training run. Swapped in with a
// single atomic store; concurrent predictions read it lock-free.
type modelState struct {
	scaler    *StandardScaler
	forest    *Forest
	booster   *Booster
	network   *MLP
	metrics   map[string]ModelMetrics
	samples   int
	trainedAt time.Time
}

// Ensemble owns the three regressors and the fitted feature scaler. Train is
// single-flight and idempotent; Predict lazily trains on first use.
type Ensemble struct {
	cfg    Config
	logger *slog.Logger

	state      atomic.Pointer[modelState]
	trainMu    sync.Mutex // serializes training; guards the double-checked store
	trainCount atomic.Int64
}

// NewEnsemble creates an untrained ensemble.
func NewEnsemble(cfg Config, logger *slog.Logger) *Ensemble {
	if cfg.TrainingSamples <= 0 {
		cfg.TrainingSamples = 5000
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &Ensemble{cfg: cfg, logger: logger}
}

// Trained reports whether a training run has completed.
func (e *Ensemble) Trained() bool {
	return e.state.Load() != nil
}

// TrainCount returns how many training runs have executed. Observable proof
// that repeated Train calls reuse the fitted state.
func (e *Ensemble) TrainCount() int64 {
	return e.trainCount.Load()
}

// Train fits all three models on a fresh synthetic dataset and returns the
// held-out metrics. Calling Train on an already-trained ensemble returns the
// cached metrics without retraining. Concurrent first callers share a single
// training run.
func (e *Ensemble) Train(ctx context.Context, nSamples int) (map[string]ModelMetrics, error) {
	if st := e.state.Load(); st != nil {
		return st.metrics, nil
	}

	e.trainMu.Lock()
	defer e.trainMu.Unlock()

	if st := e.state.Load(); st != nil {
		return st.metrics, nil
	}

	if nSamples <= 0 {
		nSamples = e.cfg.TrainingSamples
	}
	if nSamples < 10 {
		return nil, fmt.Errorf("training requires at least 10 samples, got %d", nSamples)
	}

	start := time.Now()
	e.logger.Info("ensemble training started", "samples", nSamples, "seed", e.cfg.Seed)

	samples := decay.Generate(nSamples, e.cfg.Seed)
	X := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		X[i] = s.Features()
		y[i] = s.DecayRate
	}

	// Scaler statistics come from the full dataset; the split below only
	// partitions rows for evaluation.
	scaler := &StandardScaler{}
	if err := scaler.Fit(X); err != nil {
		return nil, fmt.Errorf("fitting scaler: %w", err)
	}
	scaled := scaler.TransformAll(X)

	trainIdx, testIdx := splitIndexes(len(scaled), 0.2, e.cfg.Seed)
	trainX := rowsAt(scaled, trainIdx)
	trainY := valsAt(y, trainIdx)
	testX := rowsAt(scaled, testIdx)
	testY := valsAt(y, testIdx)

	st := &modelState{
		scaler:    scaler,
		metrics:   make(map[string]ModelMetrics, 3),
		samples:   nSamples,
		trainedAt: time.Now().UTC(),
	}

	rng := rand.New(rand.NewSource(e.cfg.Seed))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.forest = NewForest(100, 10)
	st.forest.Fit(trainX, trainY, rng)
	st.metrics[ModelForest] = evaluate(st.forest.Predict, testX, testY)
	e.logModel(ModelForest, st.metrics[ModelForest])

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.booster = NewBooster(100, 0.1, 6)
	st.booster.Fit(trainX, trainY)
	st.metrics[ModelBoost] = evaluate(st.booster.Predict, testX, testY)
	e.logModel(ModelBoost, st.metrics[ModelBoost])

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.network = NewMLP(len(trainX[0]), 100, 50)
	st.network.Fit(trainX, trainY, rng)
	st.metrics[ModelNetwork] = evaluate(st.network.Predict, testX, testY)
	e.logModel(ModelNetwork, st.metrics[ModelNetwork])

	e.state.Store(st)
	e.trainCount.Add(1)
	metrics.ObserveTraining(time.Since(start).Seconds())

	e.logger.Info("ensemble training complete",
		"samples", nSamples,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return st.metrics, nil
}

func (e *Ensemble) logModel(name string, m ModelMetrics) {
	e.logger.Info("model trained", "model", name, "rmse", m.RMSE, "r2", m.R2)
}

// Predict estimates the decay rate in km/day for an object known only by its
// orbital elements, using default mass, area, and solar flux.
func (e *Ensemble) Predict(ctx context.Context, altitudeKM, inclinationDeg, eccentricity float64) (float64, error) {
	return e.PredictObject(ctx, decay.Params{
		AltitudeKM:     altitudeKM,
		InclinationDeg: inclinationDeg,
		Eccentricity:   eccentricity,
		MassKG:         DefaultMassKG,
		AreaM2:         DefaultAreaM2,
		SolarFlux:      DefaultSolarFlux,
	})
}

// PredictObject estimates the decay rate in km/day for fully specified
// parameters. Trains the ensemble first if no training run has completed.
func (e *Ensemble) PredictObject(ctx context.Context, p decay.Params) (float64, error) {
	st := e.state.Load()
	if st == nil {
		if _, err := e.Train(ctx, 0); err != nil {
			return 0, fmt.Errorf("lazy training: %w", err)
		}
		st = e.state.Load()
	}

	x := st.scaler.Transform(p.Features())

	blend := weightForest*st.forest.Predict(x) +
		weightBoost*st.booster.Predict(x) +
		weightNetwork*st.network.Predict(x)

	metrics.PredictionMade()
	return math.Max(decay.MinDecayRate, blend), nil
}

// Info returns a description of the ensemble and, once trained, its metrics.
func (e *Ensemble) Info() Info {
	info := Info{
		FeatureNames: decay.FeatureNames(),
		Weights: map[string]float64{
			ModelForest:  weightForest,
			ModelBoost:   weightBoost,
			ModelNetwork: weightNetwork,
		},
	}
	if st := e.state.Load(); st != nil {
		info.Trained = true
		info.SampleCount = st.samples
		t := st.trainedAt
		info.TrainedAt = &t
		info.Metrics = st.metrics
	}
	return info
}

// splitIndexes shuffles row indexes with the given seed and carves off the
// trailing testFrac share as the held-out set.
func splitIndexes(n int, testFrac float64, seed int64) (train, test []int) {
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testN := int(float64(n) * testFrac)
	if testN < 1 {
		testN = 1
	}
	return perm[:n-testN], perm[n-testN:]
}

func rowsAt(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = X[j]
	}
	return out
}

func valsAt(y []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = y[j]
	}
	return out
}

// evaluate computes MSE, RMSE, and R2 on the held-out set. R2 against a
// zero-variance target is 1 when the residuals are zero and 0 otherwise.
func evaluate(predict func([]float64) float64, X [][]float64, y []float64) ModelMetrics {
	var ssRes float64
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var ssTot float64
	for i, row := range X {
		d := predict(row) - y[i]
		ssRes += d * d
		dt := y[i] - mean
		ssTot += dt * dt
	}

	mse := ssRes / float64(len(y))
	var r2 float64
	switch {
	case ssTot > 0:
		r2 = 1 - ssRes/ssTot
	case ssRes == 0:
		r2 = 1
	default:
		r2 = 0
	}

	return ModelMetrics{MSE: mse, RMSE: math.Sqrt(mse), R2: r2}
}
