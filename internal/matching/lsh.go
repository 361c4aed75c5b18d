package matching

import (
	"context"
	"math/rand/v2"

	"feature-align/internal/features"
)

// LSHParams configures the bit-sampling hash index.
type LSHParams struct {
	Tables  int    `json:"tables"`
	KeyBits int    `json:"key_bits"`
	Seed    uint64 `json:"seed"`
	Workers int    `json:"-"`
}

// DefaultLSHParams returns the defaults used by the alignment pipeline.
func DefaultLSHParams() LSHParams {
	return LSHParams{Tables: 6, KeyBits: 12}
}

const (
	lshMaxKeyBits = 30
	lshSeedStream = 0x6c73686d61746368
)

// LSH is an approximate matcher for Binary descriptors. Each table hashes a
// descriptor by a fixed random subset of its bits; a query looks up its own
// bucket and every bucket one bit flip away, then re-ranks the union by exact
// Hamming distance.
type LSH struct {
	params LSHParams
}

// NewLSH creates a hashing matcher. Zero-valued fields take their defaults.
func NewLSH(p LSHParams) *LSH {
	def := DefaultLSHParams()
	if p.Tables <= 0 {
		p.Tables = def.Tables
	}
	if p.KeyBits <= 0 {
		p.KeyBits = def.KeyBits
	}
	p.KeyBits = min(p.KeyBits, lshMaxKeyBits)
	return &LSH{params: p}
}

// Name implements Matcher.
func (m *LSH) Name() string { return "LSH" }

type lshTable struct {
	bits    []int
	buckets map[uint32][]int
}

func (t *lshTable) key(d features.Binary) uint32 {
	var k uint32
	for i, b := range t.bits {
		if d[b/64]>>(b%64)&1 == 1 {
			k |= 1 << i
		}
	}
	return k
}

// Match implements Matcher.
func (m *LSH) Match(ctx context.Context, query, train []features.Binary, ratio float64) ([]Match, error) {
	if err := validate(query, train, ratio); err != nil {
		return nil, err
	}
	if len(query) == 0 || len(train) == 0 {
		return []Match{}, nil
	}

	tables := m.index(train)
	best := make([]neighbours, len(query))
	err := forEachQuery(ctx, len(query), m.params.Workers, func(q int) {
		n := newNeighbours()
		seen := make(map[int]struct{})
		visit := func(bucket []int) {
			for _, t := range bucket {
				if _, ok := seen[t]; ok {
					continue
				}
				seen[t] = struct{}{}
				n.offer(t, query[q].Distance(train[t]))
			}
		}
		for _, tbl := range tables {
			k := tbl.key(query[q])
			visit(tbl.buckets[k])
			for b := range tbl.bits {
				visit(tbl.buckets[k^(1<<b)])
			}
		}
		best[q] = n
	})
	if err != nil {
		return nil, err
	}
	return resolve(best, ratio), nil
}

// index hashes train into the tables. Bit subsets are drawn from the seeded
// stream so results are reproducible.
func (m *LSH) index(train []features.Binary) []*lshTable {
	total := train[0].Len() * 64
	keyBits := min(m.params.KeyBits, total)
	rng := rand.New(rand.NewPCG(m.params.Seed, lshSeedStream))

	tables := make([]*lshTable, m.params.Tables)
	for i := range tables {
		tbl := &lshTable{
			bits:    rng.Perm(total)[:keyBits],
			buckets: make(map[uint32][]int),
		}
		for t, d := range train {
			k := tbl.key(d)
			tbl.buckets[k] = append(tbl.buckets[k], t)
		}
		tables[i] = tbl
	}
	return tables
}
