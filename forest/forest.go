// Package forest implements an isolation-forest outlier ensemble: randomized
// binary trees isolate points by recursive uniform splits, and a point's
// anomaly score is a function of its average isolation depth across trees.
package forest

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Options configures a fit. Zero values select the defaults.
type Options struct {
	Trees         int     // number of trees (default 100)
	SubsampleSize int     // per-tree subsample (default min(256, n))
	Contamination float64 // expected anomaly fraction, in (0, 0.5] (default 0.05)
	Seed          int64   // RNG seed; fits are deterministic given the seed
}

const (
	defaultTrees     = 100
	defaultSubsample = 256
	defaultContam    = 0.05
)

// node is one tree node. Internal nodes split on a feature; every node keeps
// the observed per-feature bounds of its subsample so that a query point
// falling outside the box is treated as isolated at that depth.
type node struct {
	splitFeature int
	splitValue   float64
	left, right  *node
	size         int
	min, max     []float64
}

func (n *node) leaf() bool { return n.left == nil }

// Forest is a trained model. Score output convention: the signed raw score
// is 0 at the decision boundary and decreases toward -1 as a point becomes
// more anomalous; approximately a Contamination fraction of the training
// window scores negative.
type Forest struct {
	trees     []*node
	dims      int
	trainSize int
	cPsi      float64
	threshold float64 // (1-contamination) quantile of training anomaly scores
	denom     float64 // raw-score normalizer, 1 - threshold
}

// Fit trains a forest on the given rows. Rows must be non-empty, at least
// two of them, rectangular, and finite in every feature; anything else is a
// fit error and the caller keeps its previous model.
func Fit(data [][]float64, opts Options) (*Forest, error) {
	n := len(data)
	if n < 2 {
		return nil, fmt.Errorf("forest: need at least 2 samples, have %d", n)
	}
	dims := len(data[0])
	if dims == 0 {
		return nil, fmt.Errorf("forest: zero-width feature vector")
	}
	for i, row := range data {
		if len(row) != dims {
			return nil, fmt.Errorf("forest: row %d has %d features, want %d", i, len(row), dims)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("forest: non-finite value at row %d feature %d", i, j)
			}
		}
	}

	trees := opts.Trees
	if trees <= 0 {
		trees = defaultTrees
	}
	psi := opts.SubsampleSize
	if psi <= 0 || psi > n {
		psi = defaultSubsample
	}
	if psi > n {
		psi = n
	}
	contam := opts.Contamination
	if contam <= 0 {
		contam = defaultContam
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	f := &Forest{
		trees:     make([]*node, 0, trees),
		dims:      dims,
		trainSize: n,
		cPsi:      avgPathLength(psi),
	}
	for t := 0; t < trees; t++ {
		idx := rng.Perm(n)[:psi]
		f.trees = append(f.trees, buildTree(data, idx, 0, heightLimit, rng))
	}

	// Calibrate the decision boundary so that roughly a contamination
	// fraction of the training window falls on the anomalous side.
	scores := make([]float64, n)
	for i, row := range data {
		scores[i] = f.anomalyScore(row)
	}
	sort.Float64s(scores)
	q := 1 - contam
	pos := int(math.Ceil(q*float64(n))) - 1
	if pos < 0 {
		pos = 0
	}
	if pos >= n {
		pos = n - 1
	}
	f.threshold = scores[pos]
	f.denom = 1 - f.threshold
	if f.denom < 1e-9 {
		f.denom = 1e-9
	}
	return f, nil
}

func buildTree(data [][]float64, idx []int, depth, heightLimit int, rng *rand.Rand) *node {
	dims := len(data[idx[0]])
	nd := &node{
		size: len(idx),
		min:  make([]float64, dims),
		max:  make([]float64, dims),
	}
	copy(nd.min, data[idx[0]])
	copy(nd.max, data[idx[0]])
	for _, i := range idx[1:] {
		for j, v := range data[i] {
			if v < nd.min[j] {
				nd.min[j] = v
			}
			if v > nd.max[j] {
				nd.max[j] = v
			}
		}
	}

	if len(idx) <= 1 || depth >= heightLimit {
		return nd
	}
	var splittable []int
	for j := 0; j < dims; j++ {
		if nd.max[j] > nd.min[j] {
			splittable = append(splittable, j)
		}
	}
	if len(splittable) == 0 {
		return nd // all features constant in this subsample
	}

	feat := splittable[rng.Intn(len(splittable))]
	split := nd.min[feat] + rng.Float64()*(nd.max[feat]-nd.min[feat])
	var left, right []int
	for _, i := range idx {
		if data[i][feat] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return nd // degenerate split, keep as leaf
	}
	nd.splitFeature = feat
	nd.splitValue = split
	nd.left = buildTree(data, left, depth+1, heightLimit, rng)
	nd.right = buildTree(data, right, depth+1, heightLimit, rng)
	return nd
}

// pathLength walks x down one tree. A point outside a node's observed
// bounding box would have been split off immediately had it been present,
// so it counts as isolated one edge below that node.
func pathLength(nd *node, x []float64) float64 {
	depth := 0.0
	for {
		for j, v := range x {
			if v < nd.min[j] || v > nd.max[j] {
				return depth + 1
			}
		}
		if nd.leaf() {
			return depth + avgPathLength(nd.size)
		}
		depth++
		if x[nd.splitFeature] < nd.splitValue {
			nd = nd.left
		} else {
			nd = nd.right
		}
	}
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search in a tree of n points.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
	}
}

// anomalyScore is the classic iForest score in (0, 1]: 0.5-ish for average
// points, approaching 1 for points isolated near the root.
func (f *Forest) anomalyScore(x []float64) float64 {
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, x)
	}
	mean := total / float64(len(f.trees))
	return math.Pow(2, -mean/f.cPsi)
}

// Score returns the signed raw score for x and whether it falls on the
// anomalous side of the boundary. Deterministic for a given trained forest.
func (f *Forest) Score(x []float64) (isAnomaly bool, raw float64) {
	raw = (f.threshold - f.anomalyScore(x)) / f.denom
	return raw < 0, raw
}

// TrainSize returns the number of rows the forest was fitted on.
func (f *Forest) TrainSize() int { return f.trainSize }
