package transform

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statepop/internal/types"
)

var (
	rec1 = types.Record{State: "Virginia", Year: "2019", Population: 100}
	rec2 = types.Record{State: "Ohio", Year: "2019", Population: 200}
	rec3 = types.Record{State: "Virginia", Year: "2020", Population: 110}
)

func sample() []types.Record { return []types.Record{rec1, rec2, rec3} }

func TestFilterByField_KeepsMatchesInOrder(t *testing.T) {
	got := FilterByField(sample(), types.FieldState, "Virginia")
	if diff := cmp.Diff([]types.Record{rec1, rec3}, got); diff != "" {
		t.Errorf("FilterByField mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupByField_FirstAppearanceOrder(t *testing.T) {
	view := GroupByField(sample(), types.FieldState)

	assert.Equal(t, []string{"Virginia", "Ohio"}, view.Keys())
	va, _ := view.Get("Virginia")
	oh, _ := view.Get("Ohio")
	assert.Equal(t, []types.Record{rec1, rec3}, va)
	assert.Equal(t, []types.Record{rec2}, oh)
}

func TestEmptyInput(t *testing.T) {
	filtered := FilterByField(nil, types.FieldState, "Virginia")
	require.NotNil(t, filtered)
	assert.Empty(t, filtered)

	view := GroupByField(nil, types.FieldState)
	assert.Zero(t, view.Len())
	assert.Empty(t, view.Keys())
}

func TestFilterByField_NoMatch(t *testing.T) {
	got := FilterByField(sample(), types.FieldState, "virginia")
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestFilterByField_NumericField(t *testing.T) {
	got := FilterByField(sample(), types.FieldYear, "2019")
	assert.Equal(t, []types.Record{rec1, rec2}, got)
}

func TestTransformsDoNotMutateInput(t *testing.T) {
	in := sample()
	before := append([]types.Record(nil), in...)

	_ = FilterByField(in, types.FieldState, "Ohio")
	_ = GroupByField(in, types.FieldYear)

	assert.Equal(t, before, in)
}

func TestGroupByField_EmptyValueBucket(t *testing.T) {
	in := []types.Record{
		{State: "Ohio", Year: "2019", Population: 1, StateSlug: "ohio"},
		{State: "Iowa", Year: "2019", Population: 2},
	}
	view := GroupByField(in, types.FieldStateSlug)
	assert.Equal(t, []string{"ohio", ""}, view.Keys())
}

func randomRecords(r *rand.Rand, n int) []types.Record {
	states := []string{"Alabama", "Alaska", "Ohio", "Texas", "Virginia"}
	out := make([]types.Record, n)
	for i := range out {
		out[i] = types.Record{
			State:      states[r.Intn(len(states))],
			Year:       fmt.Sprint(2013 + r.Intn(8)),
			Population: int64(i),
		}
	}
	return out
}

func TestFilterByField_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		in := randomRecords(r, r.Intn(60))
		got := FilterByField(in, types.FieldState, "Texas")

		var want []types.Record
		for _, rec := range in {
			if rec.State == "Texas" {
				want = append(want, rec)
			}
		}
		for _, rec := range got {
			require.Equal(t, "Texas", rec.State)
		}
		require.Len(t, got, len(want))
		for j := range want {
			require.Equal(t, want[j], got[j])
		}

		again := FilterByField(in, types.FieldState, "Texas")
		require.True(t, cmp.Equal(got, again))
	}
}

func TestGroupByField_StablePartition(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		in := randomRecords(r, r.Intn(80))
		view := GroupByField(in, types.FieldState)

		// Population carries the input index, so order checks are direct.
		seen := make(map[int64]bool, len(in))
		total := 0
		for key, bucket := range view.All() {
			last := int64(-1)
			for _, rec := range bucket {
				require.Equal(t, key, rec.State)
				require.Greater(t, rec.Population, last)
				require.False(t, seen[rec.Population])
				seen[rec.Population] = true
				last = rec.Population
			}
			total += len(bucket)
		}
		require.Equal(t, len(in), total)

		var firstSeen []string
		dup := map[string]bool{}
		for _, rec := range in {
			if !dup[rec.State] {
				dup[rec.State] = true
				firstSeen = append(firstSeen, rec.State)
			}
		}
		if len(firstSeen) == 0 {
			require.Empty(t, view.Keys())
		} else {
			require.Equal(t, firstSeen, view.Keys())
		}

		again := GroupByField(in, types.FieldState)
		require.Equal(t, view.Keys(), again.Keys())
		for key, bucket := range view.All() {
			other, _ := again.Get(key)
			require.True(t, cmp.Equal(bucket, other))
		}
	}
}
