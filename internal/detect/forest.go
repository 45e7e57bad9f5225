package detect

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/dvloznov/spend-analytics/internal/stats"
)

// eulerGamma approximates the harmonic number tail in averagePathLength.
const eulerGamma = 0.5772156649

// ForestConfig sizes an IsolationForest.
type ForestConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// IsolationForest is a one-dimensional isolation forest. Scores follow the
// usual convention: ScoreSamples is the negated anomaly score, so lower means
// more anomalous, and Predict marks samples scoring below the contamination
// percentile of the training scores.
type IsolationForest struct {
	cfg        ForestConfig
	trees      []*itreeNode
	sampleSize int
	offset     float64
	fitted     bool
}

type itreeNode struct {
	split       float64
	left, right *itreeNode
	size        int // samples reaching a leaf
}

func (n *itreeNode) isLeaf() bool {
	return n.left == nil
}

// NewIsolationForest returns an unfitted forest.
func NewIsolationForest(cfg ForestConfig) *IsolationForest {
	return &IsolationForest{cfg: cfg}
}

// Fit grows the trees on values and sets the decision offset. The same
// values and config always produce the same forest.
func (f *IsolationForest) Fit(values []float64) error {
	if len(values) < 2 {
		return fmt.Errorf("Fit: need at least 2 samples, got %d", len(values))
	}
	if f.cfg.Trees < 1 || f.cfg.SampleSize < 2 {
		return errors.New("Fit: trees and sample size must be positive")
	}
	if !(f.cfg.Contamination > 0 && f.cfg.Contamination <= 0.5) {
		return fmt.Errorf("Fit: contamination must be in (0, 0.5], got %v", f.cfg.Contamination)
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	f.sampleSize = min(f.cfg.SampleSize, len(values))
	maxDepth := int(math.Ceil(math.Log2(float64(f.sampleSize))))

	f.trees = make([]*itreeNode, f.cfg.Trees)
	sample := make([]float64, f.sampleSize)
	for i := range f.trees {
		for j, idx := range rng.Perm(len(values))[:f.sampleSize] {
			sample[j] = values[idx]
		}
		f.trees[i] = growTree(rng, sample, 0, maxDepth)
	}
	f.fitted = true

	threshold, ok := stats.Quantile(f.ScoreSamples(values), f.cfg.Contamination)
	if !ok {
		return errors.New("Fit: could not compute decision offset")
	}
	f.offset = threshold
	return nil
}

// growTree partitions values in place.
func growTree(rng *rand.Rand, values []float64, depth, maxDepth int) *itreeNode {
	if depth >= maxDepth || len(values) <= 1 {
		return &itreeNode{size: len(values)}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &itreeNode{size: len(values)}
	}

	split := lo + rng.Float64()*(hi-lo)
	i := 0
	for j := range values {
		if values[j] < split {
			values[i], values[j] = values[j], values[i]
			i++
		}
	}

	return &itreeNode{
		split: split,
		left:  growTree(rng, values[:i], depth+1, maxDepth),
		right: growTree(rng, values[i:], depth+1, maxDepth),
	}
}

// ScoreSamples returns the negated anomaly score of every value, in [-1, 0).
// It returns nil before Fit.
func (f *IsolationForest) ScoreSamples(values []float64) []float64 {
	if !f.fitted {
		return nil
	}
	norm := averagePathLength(f.sampleSize)
	scores := make([]float64, len(values))
	for i, v := range values {
		var depth float64
		for _, t := range f.trees {
			depth += pathLength(t, v)
		}
		mean := depth / float64(len(f.trees))
		scores[i] = -math.Pow(2, -mean/norm)
	}
	return scores
}

// Predict reports, for every value, whether the forest considers it an outlier.
func (f *IsolationForest) Predict(values []float64) []bool {
	scores := f.ScoreSamples(values)
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s < f.offset
	}
	return out
}

func pathLength(n *itreeNode, v float64) float64 {
	depth := 0.0
	for !n.isLeaf() {
		if v < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePathLength(n.size)
}

// averagePathLength is the expected depth of an unsuccessful search in a
// binary search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
