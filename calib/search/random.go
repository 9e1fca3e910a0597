// Package search provides the default optimizer wired in by the CLI: a
// deterministic seeded uniform sampler over the parameter space. It stands
// in for the external Bayesian optimizer during development and testing, and
// any real optimizer satisfying calib.Optimizer can replace it.
package search

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/pfc-calib/pfc-calib/calib"
)

// Random samples candidate points uniformly within each dimension's bounds.
// The same seed always yields the same ask sequence regardless of when Tell
// calls interleave, which keeps calibration runs reproducible.
type Random struct {
	dists    []distuv.Uniform
	observed int
}

// NewRandom builds a sampler over space with a deterministic seed.
func NewRandom(space calib.Space, seed int64) *Random {
	src := rand.NewSource(uint64(seed))
	dists := make([]distuv.Uniform, len(space))
	for i, d := range space {
		dists[i] = distuv.Uniform{Min: d.Min, Max: d.Max, Src: src}
	}
	return &Random{dists: dists}
}

// Ask returns n fresh uniform samples.
func (r *Random) Ask(n int) []calib.Point {
	points := make([]calib.Point, n)
	for i := range points {
		p := make(calib.Point, len(r.dists))
		for j := range r.dists {
			p[j] = r.dists[j].Rand()
		}
		points[i] = p
	}
	return points
}

// Tell records the observation count. A uniform sampler does not steer on
// results, but honoring the contract keeps it a drop-in Optimizer.
func (r *Random) Tell(points []calib.Point, losses []float64) {
	r.observed += len(points)
}

// Observed returns the number of observations fed back so far.
func (r *Random) Observed() int { return r.observed }
