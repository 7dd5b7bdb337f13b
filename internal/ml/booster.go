package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Supported training objectives.
const (
	ObjectiveBinaryLogistic = "binary:logistic"
	ObjectiveMultiSoftprob  = "multi:softprob"
)

// TreeNode is one node of a gradient-boosted tree as written by the XGBoost
// JSON dump. Leaves carry Leaf; split nodes carry the rest.
type TreeNode struct {
	NodeID         int        `json:"nodeid"`
	Depth          int        `json:"depth,omitempty"`
	Split          string     `json:"split,omitempty"`
	SplitCondition float64    `json:"split_condition,omitempty"`
	Yes            int        `json:"yes,omitempty"`
	No             int        `json:"no,omitempty"`
	Missing        *int       `json:"missing,omitempty"`
	Leaf           *float64   `json:"leaf,omitempty"`
	Children       []TreeNode `json:"children,omitempty"`
}

// node is the flattened form used for scoring; yes/no/missing index into the
// owning tree's node slice.
type node struct {
	feature   int
	threshold float64
	yes       int
	no        int
	missing   int
	leaf      float64
	isLeaf    bool
}

type tree struct {
	nodes []node
	class int
}

// Booster is a gradient-boosted tree ensemble. It is immutable after
// construction and safe for concurrent use.
type Booster struct {
	objective    string
	numClass     int
	baseMargin   float64
	featureNames []string
	trees        []tree
}

// BoosterSpec is the decoded artifact content needed to build a Booster.
type BoosterSpec struct {
	Objective    string
	NumClass     int
	BaseScore    *float64
	FeatureNames []string
	TreeInfo     []int
	Trees        []TreeNode
}

// NewBooster compiles the tree dump into a scoring structure, rejecting
// dangling node references and splits on unknown features.
func NewBooster(spec BoosterSpec) (*Booster, error) {
	if len(spec.FeatureNames) == 0 {
		return nil, fmt.Errorf("booster: no feature names")
	}
	if len(spec.Trees) == 0 {
		return nil, fmt.Errorf("booster: no trees")
	}

	b := &Booster{
		objective:    spec.Objective,
		featureNames: append([]string(nil), spec.FeatureNames...),
	}

	baseScore := 0.5
	if spec.BaseScore != nil {
		baseScore = *spec.BaseScore
	}

	switch spec.Objective {
	case ObjectiveBinaryLogistic:
		if spec.NumClass > 2 {
			return nil, fmt.Errorf("booster: %s with num_class %d", spec.Objective, spec.NumClass)
		}
		if baseScore <= 0 || baseScore >= 1 {
			return nil, fmt.Errorf("booster: base_score %v outside (0,1)", baseScore)
		}
		b.numClass = 2
		b.baseMargin = math.Log(baseScore / (1 - baseScore))
	case ObjectiveMultiSoftprob:
		if spec.NumClass < 2 {
			return nil, fmt.Errorf("booster: %s needs num_class >= 2, got %d", spec.Objective, spec.NumClass)
		}
		if len(spec.TreeInfo) != len(spec.Trees) {
			return nil, fmt.Errorf("booster: tree_info has %d entries for %d trees", len(spec.TreeInfo), len(spec.Trees))
		}
		b.numClass = spec.NumClass
		b.baseMargin = baseScore
	default:
		return nil, fmt.Errorf("booster: unsupported objective %q", spec.Objective)
	}

	featureIdx := make(map[string]int, len(spec.FeatureNames))
	for i, name := range spec.FeatureNames {
		if _, dup := featureIdx[name]; dup {
			return nil, fmt.Errorf("booster: duplicate feature name %q", name)
		}
		featureIdx[name] = i
	}

	b.trees = make([]tree, len(spec.Trees))
	for i, root := range spec.Trees {
		nodes, err := flatten(root, featureIdx)
		if err != nil {
			return nil, fmt.Errorf("booster: tree %d: %w", i, err)
		}
		class := 0
		if b.objective == ObjectiveMultiSoftprob {
			class = spec.TreeInfo[i]
			if class < 0 || class >= b.numClass {
				return nil, fmt.Errorf("booster: tree %d assigned to class %d of %d", i, class, b.numClass)
			}
		}
		b.trees[i] = tree{nodes: nodes, class: class}
	}

	return b, nil
}

func flatten(root TreeNode, featureIdx map[string]int) ([]node, error) {
	var raw []TreeNode
	var walk func(n TreeNode)
	walk = func(n TreeNode) {
		raw = append(raw, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	pos := make(map[int]int, len(raw))
	for i, n := range raw {
		if _, dup := pos[n.NodeID]; dup {
			return nil, fmt.Errorf("duplicate nodeid %d", n.NodeID)
		}
		pos[n.NodeID] = i
	}

	nodes := make([]node, len(raw))
	for i, n := range raw {
		if n.Leaf != nil {
			nodes[i] = node{isLeaf: true, leaf: *n.Leaf}
			continue
		}
		feature, err := resolveFeature(n.Split, featureIdx)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.NodeID, err)
		}
		yes, okYes := pos[n.Yes]
		no, okNo := pos[n.No]
		if !okYes || !okNo {
			return nil, fmt.Errorf("node %d: dangling child reference", n.NodeID)
		}
		// dumps without a missing field send NaN down the yes branch
		missing := yes
		if n.Missing != nil {
			if m, ok := pos[*n.Missing]; ok {
				missing = m
			}
		}
		nodes[i] = node{
			feature:   feature,
			threshold: n.SplitCondition,
			yes:       yes,
			no:        no,
			missing:   missing,
		}
	}
	return nodes, nil
}

// resolveFeature accepts either a named split or XGBoost's positional "fN".
func resolveFeature(split string, featureIdx map[string]int) (int, error) {
	if i, ok := featureIdx[split]; ok {
		return i, nil
	}
	if rest, ok := strings.CutPrefix(split, "f"); ok {
		if i, err := strconv.Atoi(rest); err == nil && i >= 0 && i < len(featureIdx) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("split on unknown feature %q", split)
}

func (t tree) score(row []float64) float64 {
	i := 0
	// a well-formed tree reaches a leaf in at most len(nodes) steps
	for steps := 0; steps <= len(t.nodes); steps++ {
		n := t.nodes[i]
		if n.isLeaf {
			return n.leaf
		}
		v := row[n.feature]
		switch {
		case math.IsNaN(v):
			i = n.missing
		case v < n.threshold:
			i = n.yes
		default:
			i = n.no
		}
	}
	return math.NaN()
}

// NumFeatures is the row length the booster expects.
func (b *Booster) NumFeatures() int { return len(b.featureNames) }

// NumClasses is the number of probability columns.
func (b *Booster) NumClasses() int { return b.numClass }

// FeatureNames returns the training-time feature order.
func (b *Booster) FeatureNames() []string {
	return append([]string(nil), b.featureNames...)
}

// Objective returns the training objective.
func (b *Booster) Objective() string { return b.objective }

// PredictProba scores every row of the batch.
func (b *Booster) PredictProba(batch [][]float64) ([][]float64, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	out := make([][]float64, len(batch))
	for r, row := range batch {
		if len(row) != len(b.featureNames) {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d",
				ErrInvalidInput, r, len(row), len(b.featureNames))
		}
		probs, err := b.predictRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		out[r] = probs
	}
	return out, nil
}

// PredictClass returns the most probable class of every row. Ties resolve to
// the lower class, so a binary row predicts 1 only when p(1) > 0.5.
func (b *Booster) PredictClass(batch [][]float64) ([]int, error) {
	probs, err := b.PredictProba(batch)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probs))
	for r, row := range probs {
		best := 0
		for c := 1; c < len(row); c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out[r] = best
	}
	return out, nil
}

func (b *Booster) predictRow(row []float64) ([]float64, error) {
	if b.objective == ObjectiveBinaryLogistic {
		margin := b.baseMargin
		for _, t := range b.trees {
			margin += t.score(row)
		}
		if math.IsNaN(margin) {
			return nil, fmt.Errorf("%w: tree traversal did not terminate", ErrInvalidOutput)
		}
		p := sigmoid(margin)
		return []float64{1 - p, p}, nil
	}

	margins := make([]float64, b.numClass)
	for c := range margins {
		margins[c] = b.baseMargin
	}
	for _, t := range b.trees {
		margins[t.class] += t.score(row)
	}
	for _, m := range margins {
		if math.IsNaN(m) {
			return nil, fmt.Errorf("%w: tree traversal did not terminate", ErrInvalidOutput)
		}
	}
	return softmax(margins), nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func softmax(margins []float64) []float64 {
	maxM := margins[0]
	for _, m := range margins[1:] {
		maxM = math.Max(maxM, m)
	}
	out := make([]float64, len(margins))
	var sum float64
	for i, m := range margins {
		out[i] = math.Exp(m - maxM)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
