package matching

import (
	"context"
	"math/rand/v2"
	"testing"

	"feature-align/internal/features"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomFloats(rng *rand.Rand, n, dim int) []features.Float {
	out := make([]features.Float, n)
	for i := range out {
		f := make(features.Float, dim)
		for d := range f {
			f[d] = rng.Float32()
		}
		out[i] = f
	}
	return out
}

func randomBinaries(rng *rand.Rand, n, words int) []features.Binary {
	out := make([]features.Binary, n)
	for i := range out {
		b := make(features.Binary, words)
		for w := range b {
			b[w] = rng.Uint64()
		}
		out[i] = b
	}
	return out
}

// perturb returns copies of src with small noise, so each copy's nearest
// neighbour is its source.
func perturb(rng *rand.Rand, src []features.Float, noise float32) []features.Float {
	out := make([]features.Float, len(src))
	for i, s := range src {
		f := make(features.Float, len(s))
		for d, v := range s {
			f[d] = v + (rng.Float32()-0.5)*noise
		}
		out[i] = f
	}
	return out
}

func flipBits(rng *rand.Rand, src []features.Binary, flips int) []features.Binary {
	out := make([]features.Binary, len(src))
	for i, s := range src {
		b := append(features.Binary(nil), s...)
		for f := 0; f < flips; f++ {
			bit := rng.IntN(len(b) * 64)
			b[bit/64] ^= 1 << (bit % 64)
		}
		out[i] = b
	}
	return out
}

func TestBruteForceRecoversPairs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	train := randomFloats(rng, 80, 32)
	query := perturb(rng, train, 0.01)

	matches, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	require.Len(t, matches, len(query))
	for i, m := range matches {
		assert.Equal(t, i, m.QueryIdx)
		assert.Equal(t, i, m.TrainIdx)
	}
}

func TestBruteForceBinary(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	train := randomBinaries(rng, 60, 4)
	query := flipBits(rng, train, 3)

	matches, err := NewBruteForce[features.Binary](2).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	require.Len(t, matches, len(query))
	for _, m := range matches {
		assert.Equal(t, m.QueryIdx, m.TrainIdx)
		assert.LessOrEqual(t, m.Distance, 3.0)
	}
}

func TestMatchEmpty(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	some := randomFloats(rng, 3, 8)
	ctx := context.Background()

	for name, m := range map[string]Matcher[features.Float]{
		"bf": NewBruteForce[features.Float](0),
		"kd": NewKDForest(KDForestParams{}),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := m.Match(ctx, nil, some, DefaultRatio)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = m.Match(ctx, some, nil, DefaultRatio)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSingleTrainNoMatch(t *testing.T) {
	query := []features.Float{{0, 0}, {1, 1}}
	train := []features.Float{{0, 0}}
	got, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	assert.Empty(t, got, "fewer than two candidates never pass the ratio test")
}

func TestRatioRejectsAmbiguous(t *testing.T) {
	query := []features.Float{{0, 0}}
	train := []features.Float{{1, 0}, {0, 1.1}, {10, 10}}
	got, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = NewBruteForce[features.Float](0).Match(context.Background(), query, train, 0.95)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].TrainIdx)
}

// assertRatioHolds recomputes the two nearest train distances of every
// returned match and checks the match is the nearest one and passed the
// ratio test strictly.
func assertRatioHolds[D features.Descriptor[D]](t *testing.T, query, train []D, got []Match, ratio float64) {
	t.Helper()
	for _, m := range got {
		d1, d2 := -1.0, -1.0
		for _, tr := range train {
			d := query[m.QueryIdx].Distance(tr)
			switch {
			case d1 < 0 || d < d1:
				d1, d2 = d, d1
			case d2 < 0 || d < d2:
				d2 = d
			}
		}
		require.GreaterOrEqual(t, d2, 0.0, "query %d has fewer than two train candidates", m.QueryIdx)
		assert.InDelta(t, d1, m.Distance, 1e-9, "query %d is not matched to its nearest train", m.QueryIdx)
		assert.Less(t, m.Distance, ratio*d2, "query %d: %g !< %g*%g", m.QueryIdx, m.Distance, ratio, d2)
	}
}

func TestRatioInvariantRandomSets(t *testing.T) {
	ctx := context.Background()
	const ratio = 0.8
	for seed := uint64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewPCG(seed, 17))

		train := randomFloats(rng, 40, 8)
		query := append(perturb(rng, train[:20], 0.05), randomFloats(rng, 20, 8)...)
		for name, m := range map[string]Matcher[features.Float]{
			"bf": NewBruteForce[features.Float](2),
			"kd": NewKDForest(KDForestParams{Checks: 64, Seed: seed}),
		} {
			got, err := m.Match(ctx, query, train, ratio)
			require.NoError(t, err, name)
			assert.NotEmpty(t, got, name)
			assertRatioHolds(t, query, train, got, ratio)
		}

		btrain := randomBinaries(rng, 40, 4)
		bquery := append(flipBits(rng, btrain[:20], 12), randomBinaries(rng, 20, 4)...)
		for name, m := range map[string]Matcher[features.Binary]{
			"bf":  NewBruteForce[features.Binary](2),
			"lsh": NewLSH(LSHParams{KeyBits: 1, Seed: seed}),
		} {
			got, err := m.Match(ctx, bquery, btrain, ratio)
			require.NoError(t, err, name)
			assert.NotEmpty(t, got, name)
			assertRatioHolds(t, bquery, btrain, got, ratio)
		}
	}
}

func TestTrainIndexUnique(t *testing.T) {
	// Both queries are closest to train[0]; only the nearer one keeps it.
	query := []features.Float{{0.2, 0}, {0.1, 0}, {0, 0.1}}
	train := []features.Float{{0, 0}, {10, 0}, {0, 10}}
	got, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	want := []Match{{QueryIdx: 1, TrainIdx: 0, Distance: 0.1}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("matches (-want +got):\n%s", diff)
	}
}

func TestTrainIndexTieKeepsLowerQuery(t *testing.T) {
	query := []features.Float{{0, 1}, {1, 0}}
	train := []features.Float{{0, 0}, {50, 50}}
	got, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].QueryIdx)
}

func TestMatchCountBounded(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	query := randomFloats(rng, 200, 4)
	train := randomFloats(rng, 30, 4)
	got, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, 1.0)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), 30)

	seen := map[int]bool{}
	for i, m := range got {
		assert.False(t, seen[m.TrainIdx], "train %d matched twice", m.TrainIdx)
		seen[m.TrainIdx] = true
		if i > 0 {
			assert.Less(t, got[i-1].QueryIdx, m.QueryIdx)
		}
	}
}

func TestDescriptorLengthMismatch(t *testing.T) {
	query := []features.Float{{0, 0}}
	train := []features.Float{{0, 0, 0}, {1, 1, 1}}
	_, err := NewBruteForce[features.Float](0).Match(context.Background(), query, train, DefaultRatio)
	assert.ErrorIs(t, err, ErrDescriptorLength)

	_, err = NewKDForest(KDForestParams{}).Match(context.Background(), query, train, DefaultRatio)
	assert.ErrorIs(t, err, ErrDescriptorLength)

	_, err = NewLSH(LSHParams{}).Match(context.Background(),
		[]features.Binary{{1}}, []features.Binary{{1, 2}, {3, 4}}, DefaultRatio)
	assert.ErrorIs(t, err, ErrDescriptorLength)
}

func TestInvalidRatio(t *testing.T) {
	train := []features.Float{{0}, {1}}
	for _, r := range []float64{0, -0.5, 1.5} {
		_, err := NewBruteForce[features.Float](0).Match(context.Background(), train, train, r)
		assert.Error(t, err, "ratio %v", r)
	}
}

func TestKDForestEqualsBruteForceOnSmallSets(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	train := randomFloats(rng, 40, 16)
	query := randomFloats(rng, 60, 16)
	ctx := context.Background()

	want, err := NewBruteForce[features.Float](0).Match(ctx, query, train, 0.9)
	require.NoError(t, err)
	got, err := NewKDForest(KDForestParams{Checks: 64}).Match(ctx, query, train, 0.9)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("kd-forest differs from brute force (-bf +kd):\n%s", diff)
	}
}

func TestKDForestRecoversPairs(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	train := randomFloats(rng, 500, 24)
	query := perturb(rng, train[:100], 0.01)

	got, err := NewKDForest(KDForestParams{Seed: 3}).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	correct := 0
	for _, m := range got {
		if m.QueryIdx == m.TrainIdx {
			correct++
		}
	}
	assert.GreaterOrEqual(t, correct, 90)
}

func TestKDForestDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	train := randomFloats(rng, 300, 8)
	query := randomFloats(rng, 100, 8)
	m := NewKDForest(KDForestParams{Seed: 42})

	a, err := m.Match(context.Background(), query, train, 0.9)
	require.NoError(t, err)
	b, err := m.Match(context.Background(), query, train, 0.9)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLSHFindsIdentical(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	train := randomBinaries(rng, 200, 4)
	query := append([]features.Binary(nil), train[50:80]...)

	// Short keys keep buckets populated, so every query sees a second candidate.
	got, err := NewLSH(LSHParams{KeyBits: 8}).Match(context.Background(), query, train, DefaultRatio)
	require.NoError(t, err)
	require.Len(t, got, len(query))
	for _, m := range got {
		assert.Equal(t, m.QueryIdx+50, m.TrainIdx)
		assert.Zero(t, m.Distance)
	}
}

func TestMatchCancelled(t *testing.T) {
	rng := rand.New(rand.NewPCG(17, 18))
	train := randomFloats(rng, 10, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBruteForce[features.Float](0).Match(ctx, train, train, DefaultRatio)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNeighboursTieLowerIndex(t *testing.T) {
	n := newNeighbours()
	n.offer(3, 1)
	n.offer(1, 1)
	n.offer(2, 1)
	assert.Equal(t, 1, n.first)
	assert.Equal(t, 2, n.second)
}
