package matching

import (
	"cmp"
	"container/heap"
	"context"
	"math/rand/v2"
	"slices"

	"feature-align/internal/features"
)

// KDForestParams configures the randomized kd-tree forest.
type KDForestParams struct {
	Trees   int    `json:"trees"`
	Checks  int    `json:"checks"` // leaf points examined per query
	Seed    uint64 `json:"seed"`
	Workers int    `json:"-"`
}

// DefaultKDForestParams returns the defaults used by the alignment pipeline.
func DefaultKDForestParams() KDForestParams {
	return KDForestParams{Trees: 5, Checks: 50}
}

const (
	kdLeafSize   = 4
	kdTopDims    = 5   // split dimension is drawn among the highest-variance ones
	kdSampleSize = 100 // points used to estimate mean and variance
	kdSeedStream = 0x6b64666f72657374
	kdNoChild    = -1
)

// KDForest is an approximate nearest-neighbour matcher for Float
// descriptors. The forest is built over the train set of each call.
type KDForest struct {
	params KDForestParams
}

// NewKDForest creates a kd-forest matcher. Zero-valued fields take their
// defaults.
func NewKDForest(p KDForestParams) *KDForest {
	def := DefaultKDForestParams()
	if p.Trees <= 0 {
		p.Trees = def.Trees
	}
	if p.Checks <= 0 {
		p.Checks = def.Checks
	}
	return &KDForest{params: p}
}

// Name implements Matcher.
func (m *KDForest) Name() string { return "KD" }

// Match implements Matcher.
func (m *KDForest) Match(ctx context.Context, query, train []features.Float, ratio float64) ([]Match, error) {
	if err := validate(query, train, ratio); err != nil {
		return nil, err
	}
	if len(query) == 0 || len(train) == 0 {
		return []Match{}, nil
	}

	rng := rand.New(rand.NewPCG(m.params.Seed, kdSeedStream))
	forest := make([]*kdTree, m.params.Trees)
	for i := range forest {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		forest[i] = buildKDTree(train, rng)
	}

	best := make([]neighbours, len(query))
	err := forEachQuery(ctx, len(query), m.params.Workers, func(q int) {
		best[q] = searchForest(forest, train, query[q], m.params.Checks)
	})
	if err != nil {
		return nil, err
	}
	return resolve(best, ratio), nil
}

type kdNode struct {
	dim         int
	split       float32
	left, right int
	points      []int // set on leaves only
}

type kdTree struct {
	nodes []kdNode
}

func buildKDTree(data []features.Float, rng *rand.Rand) *kdTree {
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	t := &kdTree{}
	t.build(data, idx, rng)
	return t
}

// build appends the subtree over idx and returns its node index.
func (t *kdTree) build(data []features.Float, idx []int, rng *rand.Rand) int {
	self := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{left: kdNoChild, right: kdNoChild})
	if len(idx) <= kdLeafSize || data[idx[0]].Len() == 0 {
		t.nodes[self].points = idx
		return self
	}

	dim, split := chooseSplit(data, idx, rng)
	// Partition in place: values below the split go left.
	lo, hi := 0, len(idx)-1
	for lo <= hi {
		if data[idx[lo]][dim] < split {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}
	if lo == 0 || lo == len(idx) {
		t.nodes[self].points = idx
		return self
	}

	left := t.build(data, idx[:lo], rng)
	right := t.build(data, idx[lo:], rng)
	t.nodes[self].dim = dim
	t.nodes[self].split = split
	t.nodes[self].left = left
	t.nodes[self].right = right
	return self
}

// chooseSplit picks a random dimension among the highest-variance ones and
// splits at its mean.
func chooseSplit(data []features.Float, idx []int, rng *rand.Rand) (int, float32) {
	dims := data[idx[0]].Len()
	sample := idx[:min(len(idx), kdSampleSize)]

	mean := make([]float64, dims)
	for _, i := range sample {
		for d, v := range data[i] {
			mean[d] += float64(v)
		}
	}
	for d := range mean {
		mean[d] /= float64(len(sample))
	}
	variance := make([]float64, dims)
	for _, i := range sample {
		for d, v := range data[i] {
			diff := float64(v) - mean[d]
			variance[d] += diff * diff
		}
	}

	order := make([]int, dims)
	for d := range order {
		order[d] = d
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(variance[b], variance[a])
	})
	top := min(kdTopDims, dims)
	dim := order[rng.IntN(top)]
	return dim, float32(mean[dim])
}

type branch struct {
	tree, node int
	bound      float64 // accumulated squared distance to the splitting planes
}

type branchQueue []branch

func (q branchQueue) Len() int           { return len(q) }
func (q branchQueue) Less(i, j int) bool { return q[i].bound < q[j].bound }
func (q branchQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *branchQueue) Push(x any)        { *q = append(*q, x.(branch)) }
func (q *branchQueue) Pop() any {
	old := *q
	b := old[len(old)-1]
	*q = old[:len(old)-1]
	return b
}

// searchForest runs a best-bin-first search across all trees. It stops once
// checks distinct points have been examined and two candidates are known, so
// sets no larger than checks are searched exhaustively.
func searchForest(forest []*kdTree, data []features.Float, q features.Float, checks int) neighbours {
	n := newNeighbours()
	seen := make(map[int]struct{}, checks*2)
	queue := make(branchQueue, 0, len(forest)*8)
	for ti := range forest {
		queue = append(queue, branch{tree: ti})
	}
	heap.Init(&queue)

	examined := 0
	for queue.Len() > 0 {
		if examined >= checks && n.second >= 0 {
			break
		}
		b := heap.Pop(&queue).(branch)
		tree := forest[b.tree]
		node := b.node
		for tree.nodes[node].points == nil {
			nd := &tree.nodes[node]
			diff := float64(q[nd.dim]) - float64(nd.split)
			near, far := nd.left, nd.right
			if diff >= 0 {
				near, far = far, near
			}
			heap.Push(&queue, branch{tree: b.tree, node: far, bound: b.bound + diff*diff})
			node = near
		}
		for _, p := range tree.nodes[node].points {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			n.offer(p, q.Distance(data[p]))
			examined++
		}
	}
	return n
}
