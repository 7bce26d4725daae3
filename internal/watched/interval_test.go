package watched

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iv(start, end int) Interval { return Interval{Start: start, End: end} }

func randomIntervals(r *rand.Rand, n, duration int) []Interval {
	out := make([]Interval, n)
	for i := range out {
		start := r.Intn(duration)
		end := start + r.Intn(duration-start)
		out[i] = iv(start, end)
	}
	return out
}

func mustMerge(t *testing.T, in []Interval) []Interval {
	t.Helper()
	out, err := Merge(in)
	require.NoError(t, err)
	return out
}

func TestMerge_Examples(t *testing.T) {
	tests := []struct {
		name   string
		in     []Interval
		want   []Interval
		unique int
	}{
		{"overlap", []Interval{iv(10, 30), iv(20, 40)}, []Interval{iv(10, 40)}, 31},
		{"one second gap stays split", []Interval{iv(0, 5), iv(7, 10)}, []Interval{iv(0, 5), iv(7, 10)}, 10},
		{"touching collapses", []Interval{iv(0, 5), iv(6, 10)}, []Interval{iv(0, 10)}, 11},
		{"contained duplicate", []Interval{iv(0, 100), iv(10, 20), iv(10, 20)}, []Interval{iv(0, 100)}, 101},
		{"zero length", []Interval{iv(5, 5)}, []Interval{iv(5, 5)}, 1},
		{"unsorted", []Interval{iv(50, 60), iv(0, 1), iv(2, 3)}, []Interval{iv(0, 3), iv(50, 60)}, 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustMerge(t, tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.unique, UniqueSeconds(got))
		})
	}
}

func TestMerge_EmptyAndSingleton(t *testing.T) {
	assert.Equal(t, []Interval{}, mustMerge(t, nil))
	assert.Equal(t, []Interval{iv(3, 9)}, mustMerge(t, []Interval{iv(3, 9)}))
}

func TestMerge_RejectsStartAfterEnd(t *testing.T) {
	_, err := Merge([]Interval{iv(0, 5), iv(9, 4)})
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = Merge([]Interval{iv(-2, 4)})
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	in := []Interval{iv(20, 30), iv(0, 25)}
	_ = mustMerge(t, in)
	assert.Equal(t, []Interval{iv(20, 30), iv(0, 25)}, in)
}

func TestMerge_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const duration = 600
	for round := 0; round < 200; round++ {
		a := randomIntervals(r, r.Intn(20), duration)
		b := randomIntervals(r, r.Intn(20), duration)

		merged := mustMerge(t, a)

		// idempotence
		require.Equal(t, merged, mustMerge(t, merged))

		// order independence
		shuffled := append([]Interval(nil), a...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, merged, mustMerge(t, shuffled))

		// canonical form
		for i := 1; i < len(merged); i++ {
			require.Less(t, merged[i-1].Start, merged[i].Start)
			require.Greater(t, merged[i].Start, merged[i-1].End+1)
		}

		// upper bound
		require.LessOrEqual(t, UniqueSeconds(merged), duration)

		// associativity under union
		left, err := MergeUnion(a, mustMerge(t, b))
		require.NoError(t, err)
		right, err := MergeUnion(a, b)
		require.NoError(t, err)
		require.Equal(t, right, left)
	}
}

func TestNormalize(t *testing.T) {
	valid, rejected := Normalize([]Interval{
		iv(-5, 10),
		iv(290, 400),
		iv(20, 10),
		iv(350, 360),
		iv(0, 0),
	}, 300)

	assert.Equal(t, []Interval{iv(0, 10), iv(290, 299), iv(0, 0)}, valid)
	require.Len(t, rejected, 2)
	assert.Equal(t, 2, rejected[0].Index)
	assert.Equal(t, ReasonStartAfterEnd, rejected[0].Reason)
	assert.Equal(t, 3, rejected[1].Index)
	assert.Equal(t, ReasonOutOfRange, rejected[1].Reason)
	assert.ErrorIs(t, rejected[0], ErrInvalidInterval)
}

func TestNormalize_UnknownDuration(t *testing.T) {
	valid, rejected := Normalize([]Interval{iv(0, 10)}, 0)
	assert.Empty(t, valid)
	require.Len(t, rejected, 1)
	assert.Equal(t, ReasonUnknownDuration, rejected[0].Reason)
}
