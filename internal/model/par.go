package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
)

// Regressor is an online passive-aggressive regressor (PA-I variant with an
// epsilon-insensitive loss). Weights are initialized lazily on the first
// PartialFit so the feature dimension comes from the data.
type Regressor struct {
	Weights []float64
	Bias    float64
	C       float64 // aggressiveness bound
	Epsilon float64 // insensitive band around the target
}

const (
	defaultC       = 1.0
	defaultEpsilon = 0.1
)

func New() *Regressor {
	return &Regressor{C: defaultC, Epsilon: defaultEpsilon}
}

// Predict returns w·x + b. A regressor that has never been fit predicts 0.
func (r *Regressor) Predict(x []float64) float64 {
	var y float64
	for i := range r.Weights {
		if i >= len(x) {
			break
		}
		y += r.Weights[i] * x[i]
	}
	return y + r.Bias
}

// PartialFit applies one PA-I update for a single example.
func (r *Regressor) PartialFit(x []float64, y float64) error {
	if len(x) == 0 {
		return fmt.Errorf("empty feature vector")
	}
	if r.Weights == nil {
		r.Weights = make([]float64, len(x))
	}
	if len(x) != len(r.Weights) {
		return fmt.Errorf("feature dimension %d, model has %d", len(x), len(r.Weights))
	}

	diff := y - r.Predict(x)
	loss := math.Abs(diff) - r.Epsilon
	if loss <= 0 {
		return nil
	}

	// squared norm includes the implicit bias feature
	norm := 1.0
	for _, v := range x {
		norm += v * v
	}
	tau := math.Min(r.C, loss/norm)
	sign := 1.0
	if diff < 0 {
		sign = -1.0
	}
	for i := range r.Weights {
		r.Weights[i] += sign * tau * x[i]
	}
	r.Bias += sign * tau
	return nil
}

// Fit runs PartialFit over all samples in order. Training from scratch is
// just online updates starting at zero weights.
func (r *Regressor) Fit(xs [][]float64, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("got %d feature rows and %d targets", len(xs), len(ys))
	}
	for i := range xs {
		if err := r.PartialFit(xs[i], ys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Encode writes a gob snapshot of the regressor.
func Encode(w io.Writer, r *Regressor) error {
	return gob.NewEncoder(w).Encode(r)
}

// Decode reads a gob snapshot written by Encode.
func Decode(rd io.Reader) (*Regressor, error) {
	var r Regressor
	if err := gob.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	if r.C == 0 {
		r.C = defaultC
	}
	if r.Epsilon == 0 {
		r.Epsilon = defaultEpsilon
	}
	return &r, nil
}
