package sketches

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func newTestSketch(t *testing.T, epsilon, gamma float64, seed int64) *CountMinSketch {
	t.Helper()
	cms, err := NewCountMinSketch(epsilon, gamma, FixedSeed(seed))
	require.NoError(t, err)
	return cms
}

func TestHashString(t *testing.T) {
	require.Equal(t, uint64(5381), HashString(""))
	// 5381*33+'a' = 177670; *33+'b' = 5863208; *33+'c' = 193485963
	require.Equal(t, uint64(193485963), HashString("abc"))
	require.Equal(t, HashString("abc"), HashString("abc"))
	require.NotEqual(t, HashString("abc"), HashString("acb"))
}

func TestDimensions(t *testing.T) {
	w, d, err := Dimensions(0.05, 0.01)
	require.NoError(t, err)
	require.Equal(t, 55, w)
	require.Equal(t, 5, d)

	cms := newTestSketch(t, 0.05, 0.01, 1)
	require.Equal(t, 55, cms.Width())
	require.Equal(t, 5, cms.Depth())
	require.Equal(t, uint64(55*5*8), cms.SizeBytes())
	for j := 0; j < cms.Depth(); j++ {
		require.Len(t, cms.Row(j), 55)
		h := cms.Hashes(j)
		require.True(t, h.A >= 1 && h.A <= LongPrime)
		require.True(t, h.B >= 1 && h.B <= LongPrime)
	}
}

func TestNewCountMinSketchRejectsBadParameters(t *testing.T) {
	for _, tc := range []struct {
		epsilon, gamma float64
		want           error
	}{
		{0.01, 0.01, ErrInvalidEpsilon},
		{0.005, 0.01, ErrInvalidEpsilon},
		{1, 0.01, ErrInvalidEpsilon},
		{math.NaN(), 0.01, ErrInvalidEpsilon},
		{0.05, 0, ErrInvalidGamma},
		{0.05, 1, ErrInvalidGamma},
		{0.05, -0.5, ErrInvalidGamma},
	} {
		t.Run(fmt.Sprintf("eps=%v,gamma=%v", tc.epsilon, tc.gamma), func(t *testing.T) {
			_, err := NewCountMinSketch(tc.epsilon, tc.gamma, FixedSeed(1))
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	_, err := NewCountMinSketchWithHashes(0.05, 0.01, GenerateHashes(2, FixedSeed(1)))
	require.Error(t, err)
}

func TestUpdateAndEstimate(t *testing.T) {
	cms := newTestSketch(t, 0.05, 0.01, 42)
	cms.UpdateString("US", 10)
	cms.UpdateString("IN", 5)
	cms.Update(7, 3)

	require.Equal(t, int64(18), cms.TotalCount())
	require.GreaterOrEqual(t, cms.EstimateString("US"), int64(10))
	require.GreaterOrEqual(t, cms.EstimateString("IN"), int64(5))
	require.GreaterOrEqual(t, cms.Estimate(7), int64(3))
	require.Equal(t, cms.EstimateString("US"), cms.Estimate(HashString("US")))

	var sum int64
	for _, c := range cms.Row(0) {
		sum += c
	}
	require.Equal(t, cms.TotalCount(), sum)
}

func TestMonotonicity(t *testing.T) {
	cms := newTestSketch(t, 0.1, 0.05, 3)
	rng := rand.New(rand.NewSource(3))
	keys := []uint64{1, 2, 3, 500, 1 << 40, math.MaxUint64}
	for i := 0; i < 2000; i++ {
		before := make([]int64, len(keys))
		for k, key := range keys {
			before[k] = cms.Estimate(key)
		}
		cms.Update(uint64(rng.Int63()), 1+rng.Int63n(5))
		for k, key := range keys {
			require.GreaterOrEqual(t, cms.Estimate(key), before[k])
		}
	}
}

func TestNoUnderestimateAndErrorBound(t *testing.T) {
	const epsilon, gamma = 0.05, 0.01
	cms := newTestSketch(t, epsilon, gamma, 11)
	rng := rand.New(rand.NewSource(11))

	truth := make(map[string]int64)
	for i := 0; i < 20000; i++ {
		// skewed key distribution
		key := fmt.Sprintf("k%d", int(math.Floor(math.Pow(rng.Float64(), 3)*2000)))
		truth[key]++
		cms.UpdateString(key, 1)
	}
	require.Equal(t, int64(20000), cms.TotalCount())

	bound := epsilon * float64(cms.TotalCount())
	var violations int
	for key, n := range truth {
		est := cms.EstimateString(key)
		require.GreaterOrEqual(t, est, n, "key %s", key)
		if float64(est-n) > bound {
			violations++
		}
	}
	require.LessOrEqual(t, float64(violations)/float64(len(truth)), gamma)
	require.Equal(t, int64(1000), cms.ErrorBound())
	require.InDelta(t, 0.99, cms.Confidence(), 1e-12)
}

func TestDeterminismWithFixedCoefficients(t *testing.T) {
	a := newTestSketch(t, 0.02, 0.001, 99)
	b := newTestSketch(t, 0.02, 0.001, 99)
	require.True(t, a.Compatible(b))

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("value-%d", i%37)
		a.UpdateString(key, int64(i%5))
		b.UpdateString(key, int64(i%5))
	}
	require.Equal(t, a.Serialize(), b.Serialize())
	for i := 0; i < 37; i++ {
		key := fmt.Sprintf("value-%d", i)
		require.Equal(t, a.EstimateString(key), b.EstimateString(key))
	}

	c := newTestSketch(t, 0.02, 0.001, 100)
	require.False(t, a.Compatible(c))
}

func TestSerializeRoundTrip(t *testing.T) {
	cms := newTestSketch(t, 0.05, 0.01, 5)
	for i := 0; i < 100; i++ {
		cms.Update(uint64(i), int64(i))
	}
	got, err := DeserializeCountMinSketch(cms.Serialize())
	require.NoError(t, err)
	require.True(t, got.Compatible(cms))
	require.Equal(t, cms.TotalCount(), got.TotalCount())
	require.Equal(t, cms.Epsilon(), got.Epsilon())
	require.Equal(t, cms.Gamma(), got.Gamma())
	for i := 0; i < 100; i++ {
		require.Equal(t, cms.Estimate(uint64(i)), got.Estimate(uint64(i)))
	}

	_, err = DeserializeCountMinSketch([]byte{1, 2, 3})
	require.Error(t, err)
	_, err = DeserializeCountMinSketch(cms.Serialize()[:40])
	require.Error(t, err)
}

func TestDeserializeRejectsOversizedHeader(t *testing.T) {
	header := func(depth, width uint32) []byte {
		data := make([]byte, 32)
		binary.LittleEndian.PutUint32(data[0:4], depth)
		binary.LittleEndian.PutUint32(data[4:8], width)
		return data
	}
	// 32 + 2^31*16 + 2^31*(2^30-2)*8 wraps to 32 in 64-bit arithmetic.
	_, err := DeserializeCountMinSketch(header(1<<31, 1<<30-2))
	require.Error(t, err)
	_, err = DeserializeCountMinSketch(header(math.MaxUint32, math.MaxUint32))
	require.Error(t, err)
	_, err = DeserializeCountMinSketch(append(header(1, 2), make([]byte, 16)...))
	require.Error(t, err)

	cms, err := DeserializeCountMinSketch(append(header(1, 2), make([]byte, 32)...))
	require.NoError(t, err)
	require.Equal(t, 2, cms.Width())
}

func TestEmptyCopy(t *testing.T) {
	cms := newTestSketch(t, 0.05, 0.01, 3)
	cms.UpdateString("a", 4)
	batch := cms.EmptyCopy()
	require.True(t, batch.Compatible(cms))
	require.Zero(t, batch.TotalCount())
	require.Zero(t, batch.EstimateString("a"))

	batch.UpdateString("a", 2)
	require.NoError(t, cms.Merge(batch))
	require.Equal(t, int64(6), cms.EstimateString("a"))
	require.Equal(t, int64(6), cms.TotalCount())
}

func TestMerge(t *testing.T) {
	a := newTestSketch(t, 0.05, 0.01, 8)
	b := newTestSketch(t, 0.05, 0.01, 8)
	a.UpdateString("x", 4)
	b.UpdateString("x", 6)
	require.NoError(t, a.Merge(b))
	require.Equal(t, int64(10), a.TotalCount())
	require.GreaterOrEqual(t, a.EstimateString("x"), int64(10))

	c := newTestSketch(t, 0.05, 0.01, 9)
	require.True(t, errors.Is(a.Merge(c), ErrIncompatibleSketches))
}

func TestEstimateJoin(t *testing.T) {
	hashes := GenerateHashes(5, FixedSeed(21))
	left, err := NewCountMinSketchWithHashes(0.011, 0.01, hashes)
	require.NoError(t, err)
	right, err := NewCountMinSketchWithHashes(0.011, 0.01, hashes)
	require.NoError(t, err)

	left.UpdateString("a", 10)
	left.UpdateString("b", 5)
	right.UpdateString("a", 2)
	right.UpdateString("b", 4)
	right.UpdateString("c", 3)

	// exact join size: 10*2 + 5*4 = 40
	est, err := EstimateJoin(left, right)
	require.NoError(t, err)
	require.GreaterOrEqual(t, est.MinDotProduct, 40.0)
	require.InDelta(t, 40, est.Corrected, 2)
	require.Len(t, est.RowEstimates, 5)
	require.Equal(t, est.RowEstimates[2], est.Corrected)
	for j := 1; j < len(est.RowEstimates); j++ {
		require.LessOrEqual(t, est.RowEstimates[j-1], est.RowEstimates[j])
	}
	require.Equal(t, int64(15), est.LeftTotal)
	require.Equal(t, int64(9), est.RightTotal)
}

func TestEstimateJoinRejectsIncompatible(t *testing.T) {
	a := newTestSketch(t, 0.05, 0.01, 1)
	b := newTestSketch(t, 0.05, 0.01, 2)
	_, err := EstimateJoin(a, b)
	require.True(t, errors.Is(err, ErrIncompatibleSketches))

	narrow := make([]byte, 32+16+8)
	binary.LittleEndian.PutUint32(narrow[0:4], 1)
	binary.LittleEndian.PutUint32(narrow[4:8], 1)
	binary.LittleEndian.PutUint64(narrow[32:40], 3)
	binary.LittleEndian.PutUint64(narrow[40:48], 4)
	one, err := DeserializeCountMinSketch(narrow)
	require.NoError(t, err)
	_, err = EstimateJoin(one, one)
	require.True(t, errors.Is(err, ErrWidthTooSmall))
}

func TestHyperLogLog(t *testing.T) {
	_, err := NewHyperLogLog(2)
	require.Error(t, err)

	hll, err := NewHyperLogLog(12)
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		hll.AddString(fmt.Sprintf("v%d", i%5000))
	}
	require.InEpsilon(t, 5000, float64(hll.Count()), 0.1)

	got, err := DeserializeHyperLogLog(hll.Serialize())
	require.NoError(t, err)
	require.Equal(t, hll.Count(), got.Count())
}
