package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfc-calib/pfc-calib/calib"
)

func testSpace() calib.Space {
	return calib.Space{
		{Name: "key_emod000", Min: 20e9, Max: 60e9},
		{Name: "key_fric", Min: 0.2, Max: 0.6},
	}
}

func TestRandomDeterminism(t *testing.T) {
	a := NewRandom(testSpace(), 123)
	b := NewRandom(testSpace(), 123)

	pa := a.Ask(5)
	pb := b.Ask(5)
	assert.Equal(t, pa, pb, "same seed must yield the same ask sequence")

	c := NewRandom(testSpace(), 124)
	assert.NotEqual(t, pa, c.Ask(5))
}

func TestRandomRespectsBounds(t *testing.T) {
	space := testSpace()
	r := NewRandom(space, 42)

	for _, p := range r.Ask(200) {
		require.Len(t, p, len(space))
		for i, d := range space {
			assert.GreaterOrEqual(t, p[i], d.Min)
			assert.LessOrEqual(t, p[i], d.Max)
		}
	}
}

func TestRandomTellCounts(t *testing.T) {
	r := NewRandom(testSpace(), 42)
	points := r.Ask(3)
	r.Tell(points, []float64{0.1, 0.2, 0.3})
	assert.Equal(t, 3, r.Observed())
}
