// Package matching pairs descriptors of two feature sets by nearest
// neighbour with a ratio test.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"feature-align/internal/features"

	"golang.org/x/sync/errgroup"
)

// DefaultRatio is the usual Lowe ratio.
const DefaultRatio = 0.7

// ErrDescriptorLength is returned when descriptors of one call differ in
// length.
var ErrDescriptorLength = errors.New("inconsistent descriptor lengths")

// Match pairs query descriptor QueryIdx with train descriptor TrainIdx.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

// Matcher finds, for each query descriptor, a distinctive nearest train
// descriptor. Implementations are safe for concurrent use.
type Matcher[D features.Descriptor[D]] interface {
	Match(ctx context.Context, query, train []D, ratio float64) ([]Match, error)
	Name() string
}

// queryChunk is the number of queries handled between cancellation checks.
const queryChunk = 64

// neighbours tracks the two best train candidates of one query.
type neighbours struct {
	first, second int
	d1, d2        float64
}

func newNeighbours() neighbours {
	return neighbours{first: -1, second: -1, d1: math.Inf(1), d2: math.Inf(1)}
}

// offer considers train index idx at distance d. Equal distances prefer the
// lower index, and an index already held is ignored.
func (n *neighbours) offer(idx int, d float64) {
	if idx == n.first || idx == n.second {
		return
	}
	switch {
	case n.first < 0 || d < n.d1 || (d == n.d1 && idx < n.first):
		n.second, n.d2 = n.first, n.d1
		n.first, n.d1 = idx, d
	case n.second < 0 || d < n.d2 || (d == n.d2 && idx < n.second):
		n.second, n.d2 = idx, d
	}
}

// passes applies the ratio test. A query with fewer than two candidates has
// no match.
func (n neighbours) passes(ratio float64) bool {
	return n.second >= 0 && n.d1 < ratio*n.d2
}

// validate checks the ratio and that every descriptor has the same length.
func validate[D features.Descriptor[D]](query, train []D, ratio float64) error {
	if ratio <= 0 || ratio > 1 || math.IsNaN(ratio) {
		return fmt.Errorf("ratio %v outside (0, 1]", ratio)
	}
	want := -1
	check := func(side string, ds []D) error {
		for i, d := range ds {
			if want < 0 {
				want = d.Len()
				continue
			}
			if d.Len() != want {
				return fmt.Errorf("%w: %s[%d] has length %d, want %d", ErrDescriptorLength, side, i, d.Len(), want)
			}
		}
		return nil
	}
	if err := check("query", query); err != nil {
		return err
	}
	return check("train", train)
}

// resolve applies the ratio test and keeps one match per train index: the
// lowest distance, then the lower query index. The result is in query order.
func resolve(best []neighbours, ratio float64) []Match {
	owner := make(map[int]int)
	for q, n := range best {
		if !n.passes(ratio) {
			continue
		}
		prev, taken := owner[n.first]
		if !taken || n.d1 < best[prev].d1 {
			owner[n.first] = q
		}
	}

	matches := make([]Match, 0, len(owner))
	for q, n := range best {
		if !n.passes(ratio) || owner[n.first] != q {
			continue
		}
		matches = append(matches, Match{QueryIdx: q, TrainIdx: n.first, Distance: n.d1})
	}
	return matches
}

// forEachQuery runs fn over [0, n) in chunks across at most workers
// goroutines, stopping early when ctx is cancelled.
func forEachQuery(ctx context.Context, n, workers int, fn func(q int)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += queryChunk {
		hi := min(lo+queryChunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for q := lo; q < hi; q++ {
				fn(q)
			}
			return nil
		})
	}
	return g.Wait()
}
