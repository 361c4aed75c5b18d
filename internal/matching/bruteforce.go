package matching

import (
	"context"

	"feature-align/internal/features"
)

// BruteForce compares every query descriptor with every train descriptor.
// It is exact for either family.
type BruteForce[D features.Descriptor[D]] struct {
	Workers int // 0 means runtime.NumCPU()
}

// NewBruteForce returns an exhaustive matcher.
func NewBruteForce[D features.Descriptor[D]](workers int) *BruteForce[D] {
	return &BruteForce[D]{Workers: workers}
}

// Name implements Matcher.
func (m *BruteForce[D]) Name() string { return "BF" }

// Match implements Matcher.
func (m *BruteForce[D]) Match(ctx context.Context, query, train []D, ratio float64) ([]Match, error) {
	if err := validate(query, train, ratio); err != nil {
		return nil, err
	}
	if len(query) == 0 || len(train) == 0 {
		return []Match{}, nil
	}

	best := make([]neighbours, len(query))
	err := forEachQuery(ctx, len(query), m.Workers, func(q int) {
		n := newNeighbours()
		for t, d := range train {
			n.offer(t, query[q].Distance(d))
		}
		best[q] = n
	})
	if err != nil {
		return nil, err
	}
	return resolve(best, ratio), nil
}
