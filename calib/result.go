package calib

import "sort"

// PenaltyLoss is the fixed scalar fed to the optimizer for an unusable
// evaluation: a failed job, an empty result, or a result with no comparable
// step. It is distinguishable from genuine high loss only by magnitude,
// which is all the optimizer needs to steer away.
const PenaltyLoss = 1e10

// SimulationResult maps step keys ("step_0", "step_1", ...) to the raw
// tabular displacement field the worker produced for that step. An empty
// string means the worker ran the step but collected no field data.
type SimulationResult map[string]string

// StepKeys returns the step keys in sorted order, which is the order the
// loss engine processes them in.
func (r SimulationResult) StepKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
