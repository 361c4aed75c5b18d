package features

import (
	"context"
	"image"
	"testing"

	"feature-align/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryDistance(t *testing.T) {
	a := Binary{0b1011, 0}
	b := Binary{0, 1 << 63}
	assert.Equal(t, 4.0, a.Distance(b))
	assert.Equal(t, 0.0, a.Distance(a))
	assert.Equal(t, 2, a.Len())
}

func TestFloatDistance(t *testing.T) {
	a := Float{0, 3}
	b := Float{4, 0}
	assert.InDelta(t, 5.0, a.Distance(b), 1e-9)
	assert.InDelta(t, 25.0, a.SquaredDistance(b), 1e-9)
	assert.Equal(t, 2, a.Len())
}

func detectors() map[string]func(t *testing.T, img *image.Gray) (n int, descLen int) {
	return map[string]func(t *testing.T, img *image.Gray) (int, int){
		"orb": func(t *testing.T, img *image.Gray) (int, int) {
			set, err := NewORB(ORBParams{}).Detect(context.Background(), img)
			require.NoError(t, err)
			require.Len(t, set.Descriptors, set.Len())
			if set.Len() == 0 {
				return 0, 0
			}
			return set.Len(), set.Descriptors[0].Len()
		},
		"gradient": func(t *testing.T, img *image.Gray) (int, int) {
			set, err := NewGradient(GradientParams{}).Detect(context.Background(), img)
			require.NoError(t, err)
			require.Len(t, set.Descriptors, set.Len())
			if set.Len() == 0 {
				return 0, 0
			}
			return set.Len(), set.Descriptors[0].Len()
		},
	}
}

func TestDetectNoFeatures(t *testing.T) {
	inputs := map[string]*image.Gray{
		"uniform": testutil.Uniform(128, 128, 90),
		"black":   testutil.Uniform(128, 128, 0),
		"tiny":    testutil.Blocks(12, 12, 3, 1),
	}
	for name, detect := range detectors() {
		for in, img := range inputs {
			t.Run(name+"/"+in, func(t *testing.T) {
				n, _ := detect(t, img)
				assert.Zero(t, n)
			})
		}
	}
}

func TestDetectTextured(t *testing.T) {
	img := testutil.Blocks(256, 256, 40, 7)
	want := map[string]int{"orb": briefBits / 64, "gradient": descDim}
	for name, detect := range detectors() {
		t.Run(name, func(t *testing.T) {
			n, descLen := detect(t, img)
			assert.Positive(t, n)
			assert.Equal(t, want[name], descLen)
		})
	}
}

func TestDetectNilImage(t *testing.T) {
	set, err := NewORB(ORBParams{}).Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestDetectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGradient(GradientParams{}).Detect(ctx, testutil.Blocks(128, 128, 20, 3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxFeaturesCap(t *testing.T) {
	img := testutil.Blocks(256, 256, 60, 11)

	orb, err := NewORB(ORBParams{MaxFeatures: 10}).Detect(context.Background(), img)
	require.NoError(t, err)
	assert.LessOrEqual(t, orb.Len(), 10)

	grad, err := NewGradient(GradientParams{MaxFeatures: 10}).Detect(context.Background(), img)
	require.NoError(t, err)
	assert.LessOrEqual(t, grad.Len(), 10)
}

func TestDetectDeterministic(t *testing.T) {
	img := testutil.Blocks(200, 160, 30, 5)
	ctx := context.Background()

	orb := NewORB(ORBParams{})
	a, err := orb.Detect(ctx, img)
	require.NoError(t, err)
	b, err := orb.Detect(ctx, img)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("ORB detection differs between runs (-first +second):\n%s", diff)
	}

	grad := NewGradient(GradientParams{})
	c, err := grad.Detect(ctx, img)
	require.NoError(t, err)
	d, err := grad.Detect(ctx, img)
	require.NoError(t, err)
	if diff := cmp.Diff(c, d); diff != "" {
		t.Errorf("gradient detection differs between runs (-first +second):\n%s", diff)
	}
}

func TestKeypointsInsideImage(t *testing.T) {
	img := testutil.Blocks(180, 140, 30, 9)
	set, err := NewORB(ORBParams{}).Detect(context.Background(), img)
	require.NoError(t, err)
	for _, kp := range set.Keypoints {
		assert.GreaterOrEqual(t, kp.X, 0.0)
		assert.GreaterOrEqual(t, kp.Y, 0.0)
		assert.Less(t, kp.X, 180.0)
		assert.Less(t, kp.Y, 140.0)
	}
}

func TestORBTranslationCovariant(t *testing.T) {
	const dx, dy, margin = 5, 3, 40
	img := testutil.Blocks(240, 200, 40, 13)
	shifted := testutil.Shift(img, dx, dy, 110)

	orb := NewORB(ORBParams{Levels: 1, MaxFeatures: 1 << 20})
	a, err := orb.Detect(context.Background(), img)
	require.NoError(t, err)
	b, err := orb.Detect(context.Background(), shifted)
	require.NoError(t, err)

	type key struct{ x, y int }
	index := make(map[key]int, b.Len())
	for i, kp := range b.Keypoints {
		index[key{int(kp.X), int(kp.Y)}] = i
	}

	checked := 0
	for i, kp := range a.Keypoints {
		if kp.X < margin || kp.Y < margin || kp.X > 240-margin || kp.Y > 200-margin {
			continue
		}
		j, ok := index[key{int(kp.X) + dx, int(kp.Y) + dy}]
		if !assert.True(t, ok, "keypoint at (%v, %v) lost after shift", kp.X, kp.Y) {
			continue
		}
		assert.Zero(t, a.Descriptors[i].Distance(b.Descriptors[j]))
		checked++
	}
	assert.Positive(t, checked)
}

func TestRetainBestStable(t *testing.T) {
	c := []candidate{
		{x: 0, score: 1}, {x: 1, score: 3}, {x: 2, score: 3}, {x: 3, score: 2},
	}
	got := retainBest(c, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got[0].x, got[1].x, got[2].x})
}

func TestLocalMaximaPlateau(t *testing.T) {
	const w, h = 5, 5
	score := make([]float32, w*h)
	score[2*w+2] = 4
	score[2*w+3] = 4
	got := localMaxima(score, w, h, 1, 0)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].x)
	assert.Equal(t, 2, got[0].y)
}

func TestCVBackendStub(t *testing.T) {
	if _, err := NewCVORB(DefaultORBParams()); err != nil {
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
	if _, err := NewCVSIFT(0); err != nil {
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	}
}
