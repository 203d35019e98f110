package dirty

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type run struct{ start, length int }

func collectRuns(d *DirtyFlags) []run {
	var out []run
	for start, length := range d.Runs() {
		out = append(out, run{start, length})
	}
	return out
}

func TestNewIsClear(t *testing.T) {
	d := New()
	assert.False(t, d.Any())
	assert.Zero(t, d.Count())
	assert.Empty(t, slices.Collect(d.IterMarked()))

	var zero DirtyFlags
	assert.Equal(t, d, zero)
}

func TestMarkAndIterate(t *testing.T) {
	d := New()
	for _, r := range []int{200, 3, 64, 63, 0, 3, 255} {
		d.Mark(r)
	}

	want := []int{0, 3, 63, 64, 200, 255}
	assert.Equal(t, want, slices.Collect(d.IterMarked()))
	assert.Equal(t, want, slices.Collect(d.IterMarked()), "iteration must not consume state")
	assert.Equal(t, len(want), d.Count())
	assert.True(t, d.IsMarked(63))
	assert.False(t, d.IsMarked(62))
	assert.False(t, d.IsMarked(-1))
	assert.False(t, d.IsMarked(Regions))
}

func TestIterMarkedEarlyStop(t *testing.T) {
	d := New()
	d.Mark(1)
	d.Mark(2)
	d.Mark(3)

	var seen []int
	for r := range d.IterMarked() {
		seen = append(seen, r)
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 2}, seen)
}

func TestMarkOutOfRange(t *testing.T) {
	d := New()
	assert.Panics(t, func() { d.Mark(Regions) })
	assert.Panics(t, func() { d.Mark(-1) })

	require.ErrorIs(t, d.TryMark(Regions), ErrRegionOutOfRange)
	require.ErrorIs(t, d.TryMark(-5), ErrRegionOutOfRange)
	assert.NoError(t, d.TryMark(Regions-1))
	assert.Equal(t, []int{Regions - 1}, slices.Collect(d.IterMarked()))
}

func TestClear(t *testing.T) {
	d := New()
	d.Mark(10)
	d.Mark(130)
	d.Clear()
	assert.False(t, d.Any())
	assert.Empty(t, slices.Collect(d.IterMarked()))
	assert.Empty(t, collectRuns(&d))
}

func TestRuns(t *testing.T) {
	tests := []struct {
		name   string
		marked []int
		want   []run
	}{
		{name: "empty", marked: nil, want: nil},
		{name: "single", marked: []int{5}, want: []run{{5, 1}}},
		{name: "separate", marked: []int{0, 1, 2, 7, 9, 10}, want: []run{{0, 3}, {7, 1}, {9, 2}}},
		{name: "block boundary", marked: []int{62, 63, 64, 65}, want: []run{{62, 4}}},
		{name: "ends at boundary", marked: []int{62, 63, 65}, want: []run{{62, 2}, {65, 1}}},
		{name: "starts at boundary", marked: []int{64, 65, 127, 128}, want: []run{{64, 2}, {127, 2}}},
		{name: "last region", marked: []int{254, 255}, want: []run{{254, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New()
			for _, r := range tt.marked {
				d.Mark(r)
			}
			assert.Equal(t, tt.want, collectRuns(&d))
			assert.Equal(t, len(tt.marked), d.Count(), "Runs must not consume state")
		})
	}
}

func TestRunsFullBitmap(t *testing.T) {
	d := New()
	for r := range Regions {
		d.Mark(r)
	}
	assert.Equal(t, []run{{0, Regions}}, collectRuns(&d))

	full := New()
	for r := range BitsPerBlock {
		full.Mark(BitsPerBlock + r)
	}
	assert.Equal(t, []run{{BitsPerBlock, BitsPerBlock}}, collectRuns(&full))
}

func TestRunsCoverMarkedRegions(t *testing.T) {
	d := New()
	for r := 0; r < Regions; r += 3 {
		d.Mark(r)
		if r+1 < Regions {
			d.Mark(r + 1)
		}
	}

	var covered []int
	for start, length := range d.Runs() {
		for r := start; r < start+length; r++ {
			covered = append(covered, r)
		}
	}
	assert.Equal(t, slices.Collect(d.IterMarked()), covered)
}
