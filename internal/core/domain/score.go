package domain

import (
	"fmt"
	"math"
)

const weightSumTolerance = 1e-9

type Weights struct {
	Semantic float64 `json:"semantic" yaml:"semantic"`
	Keyword  float64 `json:"keyword" yaml:"keyword"`
	NGram    float64 `json:"ngram" yaml:"ngram"`
	Coverage float64 `json:"coverage" yaml:"coverage"`
}

func DefaultWeights() Weights {
	return Weights{Semantic: 0.6, Keyword: 0.2, NGram: 0.1, Coverage: 0.1}
}

func (w Weights) Sum() float64 {
	return w.Semantic + w.Keyword + w.NGram + w.Coverage
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic": w.Semantic,
		"keyword":  w.Keyword,
		"ngram":    w.NGram,
		"coverage": w.Coverage,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return WrapError(ErrInvalidConfig, "validate weights", fmt.Errorf("%s weight %v outside [0,1]", name, v))
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return WrapError(ErrInvalidConfig, "validate weights", fmt.Errorf("weights sum to %v, want 1.0", sum))
	}
	return nil
}

// ScoreBreakdown holds the sub-scores in [0,1], the weights used and their
// weighted sum clamped to [0,1].
type ScoreBreakdown struct {
	Semantic    float64 `json:"semantic"`
	Keyword     float64 `json:"keyword"`
	NGram       float64 `json:"ngram"`
	Coverage    float64 `json:"coverage"`
	Weights     Weights `json:"weights"`
	WeightedSum float64 `json:"weighted_sum"`
}

// ZeroBreakdown is the score for an empty evidence set.
func ZeroBreakdown(w Weights) ScoreBreakdown {
	return ScoreBreakdown{Weights: w}
}
