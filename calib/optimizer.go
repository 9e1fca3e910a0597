package calib

// Optimizer is the external black-box optimizer driving the search. The
// dispatch loop is its only caller and serializes Ask/Tell on a single
// goroutine, so implementations need no internal locking.
//
// Tell may arrive in any completion order, not submission order, and is
// called once per completed evaluation including failed ones: a penalty loss
// teaches the optimizer that a region is unreliable rather than silently
// dropping the sample.
type Optimizer interface {
	// Ask returns n new candidate points to evaluate.
	Ask(n int) []Point
	// Tell feeds back evaluated points with their losses.
	Tell(points []Point, losses []float64)
}
