package loss

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/pfc-calib/pfc-calib/calib"
)

// PenaltyLoss mirrors calib.PenaltyLoss for callers working at the loss
// layer.
const PenaltyLoss = calib.PenaltyLoss

// Engine scores a multi-step simulation result against a directory of
// reference displacement fields. It never fails past its own boundary: a bad
// evaluation degrades to PenaltyLoss instead of aborting the optimization.
type Engine struct {
	// TargetDir holds one reference CSV per step, named after the step key
	// (step key "step_3" -> "step_3.csv"). Missing files are expected:
	// partial reference datasets skip the step without penalty.
	TargetDir string

	// TargetTransform and SimTransform bring the two coordinate frames onto
	// each other before comparison.
	TargetTransform Transform
	SimTransform    Transform

	// StepWeights overrides the default per-step weight of 1.0.
	StepWeights map[string]float64
}

// Score computes the weighted average RMSE across all comparable steps,
// processing step keys in sorted order. See PenaltyLoss for the degraded
// outcomes.
func (e *Engine) Score(result calib.SimulationResult) (score float64) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Warnf("loss: scoring panicked, substituting penalty: %v", r)
			score = PenaltyLoss
		}
	}()

	totalLoss := 0.0
	totalWeight := 0.0

	for _, stepKey := range result.StepKeys() {
		targetPath := filepath.Join(e.TargetDir, stepKey+".csv")
		if _, err := os.Stat(targetPath); err != nil {
			logrus.Debugf("loss: no target for %s, skipping", stepKey)
			continue
		}

		payload := result[stepKey]
		if payload == "" {
			logrus.Warnf("loss: simulation produced no data for %s, skipping", stepKey)
			continue
		}

		stepLoss, err := e.stepLoss(targetPath, payload)
		if err != nil {
			logrus.Warnf("loss: scoring %s failed, substituting penalty: %v", stepKey, err)
			return PenaltyLoss
		}
		if math.IsNaN(stepLoss) {
			logrus.Warnf("loss: %s produced NaN, skipping", stepKey)
			continue
		}

		weight := 1.0
		if w, ok := e.StepWeights[stepKey]; ok {
			weight = w
		}
		totalLoss += stepLoss * weight
		totalWeight += weight
		logrus.Debugf("loss: %s loss=%.6f weight=%.2f", stepKey, stepLoss, weight)
	}

	if totalWeight == 0 {
		logrus.Warn("loss: no simulation step could be compared, returning penalty")
		return PenaltyLoss
	}
	return totalLoss / totalWeight
}

// stepLoss computes the RMSE between one reference field and the simulated
// field for the same step, after aligning the simulation onto the reference
// grid.
func (e *Engine) stepLoss(targetPath, simPayload string) (float64, error) {
	tf, err := os.Open(targetPath)
	if err != nil {
		return 0, fmt.Errorf("open target %s: %w", targetPath, err)
	}
	defer tf.Close()

	target, err := ParseField(tf, e.TargetTransform)
	if err != nil {
		return 0, fmt.Errorf("target %s: %w", targetPath, err)
	}
	sim, err := ParseField(strings.NewReader(simPayload), e.SimTransform)
	if err != nil {
		return 0, fmt.Errorf("simulation field: %w", err)
	}

	target.Normalize()
	sim.Normalize()

	var squared []float64
	target.Samples(func(x, y, tv float64) {
		sv := sim.At(x, y)
		d := tv - sv
		squared = append(squared, d*d)
	})
	if len(squared) == 0 {
		return math.NaN(), nil
	}
	return math.Sqrt(stat.Mean(squared, nil)), nil
}
