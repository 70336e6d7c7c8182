package gbrt

import "sort"

// Node 回归树节点。Feature<0 表示叶节点，Value 为叶输出。
// 内部节点按 x[Feature] <= Threshold 走左子树。
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Gain      float64 `json:"gain,omitempty"`
	Left      *Node   `json:"left,omitempty"`
	Right     *Node   `json:"right,omitempty"`
}

// Tree 单棵回归树
type Tree struct {
	Root *Node `json:"root"`
}

// Predict 单样本预测
func (t *Tree) Predict(x []float64) float64 {
	node := t.Root
	for node.Feature >= 0 {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Value
}

// treeBuilder 贪心建树：每个节点穷举所有特征的候选切分点，
// 选择平方误差下降最大的切分。
type treeBuilder struct {
	x              [][]float64
	residuals      []float64
	maxDepth       int
	minLeafSamples int
}

func buildTree(x [][]float64, residuals []float64, maxDepth, minLeafSamples int) *Tree {
	b := &treeBuilder{x: x, residuals: residuals, maxDepth: maxDepth, minLeafSamples: minLeafSamples}
	indices := make([]int, len(x))
	for i := range indices {
		indices[i] = i
	}
	return &Tree{Root: b.build(indices, 0)}
}

func (b *treeBuilder) build(indices []int, depth int) *Node {
	if depth >= b.maxDepth || len(indices) < 2*b.minLeafSamples {
		return b.leaf(indices)
	}
	feature, threshold, gain, left, right := b.bestSplit(indices)
	if feature < 0 {
		return b.leaf(indices)
	}
	return &Node{
		Feature:   feature,
		Threshold: threshold,
		Gain:      gain,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
	}
}

func (b *treeBuilder) leaf(indices []int) *Node {
	sum := 0.0
	for _, i := range indices {
		sum += b.residuals[i]
	}
	value := 0.0
	if len(indices) > 0 {
		value = sum / float64(len(indices))
	}
	return &Node{Feature: -1, Value: value}
}

// bestSplit 在所有特征上找平方误差下降最大的切分。
// 按特征值排序后用前缀和扫一遍，每个切分点O(1)评估。
func (b *treeBuilder) bestSplit(indices []int) (feature int, threshold, gain float64, left, right []int) {
	feature = -1
	total, totalSq := 0.0, 0.0
	for _, i := range indices {
		r := b.residuals[i]
		total += r
		totalSq += r * r
	}
	n := float64(len(indices))
	baseSSE := totalSq - total*total/n

	numFeatures := len(b.x[indices[0]])
	sorted := make([]int, len(indices))
	for f := 0; f < numFeatures; f++ {
		copy(sorted, indices)
		sort.Slice(sorted, func(i, j int) bool { return b.x[sorted[i]][f] < b.x[sorted[j]][f] })

		leftSum, leftSq := 0.0, 0.0
		for pos := 0; pos < len(sorted)-1; pos++ {
			r := b.residuals[sorted[pos]]
			leftSum += r
			leftSq += r * r

			cur, next := b.x[sorted[pos]][f], b.x[sorted[pos+1]][f]
			if cur == next {
				continue // 相同特征值之间不能切
			}
			leftN := float64(pos + 1)
			rightN := n - leftN
			if int(leftN) < b.minLeafSamples || int(rightN) < b.minLeafSamples {
				continue
			}
			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/leftN) + (rightSq - rightSum*rightSum/rightN)
			if g := baseSSE - sse; g > gain {
				gain = g
				feature = f
				threshold = (cur + next) / 2
			}
		}
	}
	if feature < 0 {
		return -1, 0, 0, nil, nil
	}
	for _, i := range indices {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return feature, threshold, gain, left, right
}

// accumulateGain 把整棵树的切分增益累加到各特征上（特征重要性）
func (t *Tree) accumulateGain(importance []float64) {
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil || n.Feature < 0 {
			return
		}
		importance[n.Feature] += n.Gain
		walk(n.Left)
		walk(n.Right)
	}
	walk(t.Root)
}
