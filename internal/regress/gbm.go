package regress

import "sort"

// GBMTrainer fits a gradient-boosted ensemble of shallow regression
// trees on squared error: each round fits a tree to the residuals of
// the ensemble so far and adds it with a shrinkage factor.
type GBMTrainer struct {
	Trees        int
	MaxDepth     int
	LearningRate float64
	MinLeaf      int
}

func NewGBMTrainer() *GBMTrainer {
	return &GBMTrainer{
		Trees:        200,
		MaxDepth:     4,
		LearningRate: 0.05,
		MinLeaf:      5,
	}
}

type treeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Value     float64   `json:"v"`
	Left      *treeNode `json:"l,omitempty"`
	Right     *treeNode `json:"r,omitempty"`
	leaf      bool
}

// GBMModel is the fitted ensemble.
type GBMModel struct {
	Base         float64     `json:"base"`
	LearningRate float64     `json:"learning_rate"`
	Nodes        []*treeNode `json:"trees"`
}

func (t *GBMTrainer) Train(x [][]float64, y []float64) (Model, error) {
	if err := validate(x, y); err != nil {
		return nil, err
	}

	base := mean(y)
	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = base
	}

	model := &GBMModel{Base: base, LearningRate: t.LearningRate}
	residuals := make([]float64, len(y))
	idx := make([]int, len(y))
	for i := range idx {
		idx[i] = i
	}

	for round := 0; round < t.Trees; round++ {
		for i := range y {
			residuals[i] = y[i] - pred[i]
		}
		tree := t.buildTree(x, residuals, idx, t.MaxDepth)
		model.Nodes = append(model.Nodes, tree)
		for i, row := range x {
			pred[i] += t.LearningRate * evalTree(tree, row)
		}
	}
	return model, nil
}

func (m *GBMModel) Predict(features []float64) float64 {
	sum := m.Base
	for _, tree := range m.Nodes {
		sum += m.LearningRate * evalTree(tree, features)
	}
	return sum
}

func evalTree(n *treeNode, row []float64) float64 {
	for n.Left != nil {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

func (t *GBMTrainer) buildTree(x [][]float64, target []float64, idx []int, depth int) *treeNode {
	node := &treeNode{Value: meanAt(target, idx), leaf: true}
	if depth == 0 || len(idx) < 2*t.MinLeaf {
		return node
	}

	feature, threshold, ok := t.bestSplit(x, target, idx)
	if !ok {
		return node
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < t.MinLeaf || len(right) < t.MinLeaf {
		return node
	}

	node.leaf = false
	node.Feature = feature
	node.Threshold = threshold
	node.Left = t.buildTree(x, target, left, depth-1)
	node.Right = t.buildTree(x, target, right, depth-1)
	return node
}

// bestSplit scans every feature's sorted values for the threshold that
// most reduces the sum of squared residuals.
func (t *GBMTrainer) bestSplit(x [][]float64, target []float64, idx []int) (int, float64, bool) {
	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0

	total, totalSq := sums(target, idx)
	n := float64(len(idx))
	baseSSE := totalSq - total*total/n

	order := make([]int, len(idx))
	for f := 0; f < len(x[idx[0]]); f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return x[order[a]][f] < x[order[b]][f] })

		var leftSum, leftSq float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			leftSum += target[i]
			leftSq += target[i] * target[i]

			// No valid threshold between equal feature values.
			if x[order[k]][f] == x[order[k+1]][f] {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			if int(nl) < t.MinLeaf || int(nr) < t.MinLeaf {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			gain := baseSSE - sse
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (x[order[k]][f] + x[order[k+1]][f]) / 2
			}
		}
	}

	return bestFeature, bestThreshold, bestFeature >= 0
}

func sums(target []float64, idx []int) (sum, sumSq float64) {
	for _, i := range idx {
		sum += target[i]
		sumSq += target[i] * target[i]
	}
	return sum, sumSq
}

func meanAt(target []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += target[i]
	}
	return sum / float64(len(idx))
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
