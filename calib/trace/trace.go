// Package trace records the course of one optimization run: the loss of
// every completed call, the best-so-far curve, and the final best parameter
// set, persisted as JSON into a per-case results directory.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
)

// ConvergencePoint is one completed evaluation: its call number, its loss,
// and the best loss observed up to and including that call.
type ConvergencePoint struct {
	Call int     `json:"call"`
	Loss float64 `json:"loss"`
	Best float64 `json:"best"`
}

// RunRecord accumulates everything worth keeping from one case run.
type RunRecord struct {
	RunID          string             `json:"run_id"`
	Case           string             `json:"case"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
	Calls          int                `json:"calls"`
	BestLoss       float64            `json:"best_loss"`
	BestParameters map[string]float64 `json:"best_parameters"`
	Convergence    []ConvergencePoint `json:"convergence"`
}

// NewRunRecord starts a record for the named target case.
func NewRunRecord(caseName string) *RunRecord {
	return &RunRecord{
		RunID:       uuid.NewString(),
		Case:        caseName,
		StartedAt:   time.Now(),
		Convergence: make([]ConvergencePoint, 0),
	}
}

// Record appends one completed call.
func (r *RunRecord) Record(call int, loss, best float64) {
	r.Convergence = append(r.Convergence, ConvergencePoint{Call: call, Loss: loss, Best: best})
}

// Finish stamps the record with the run's outcome.
func (r *RunRecord) Finish(bestLoss float64, bestParams map[string]float64, calls int) {
	r.FinishedAt = time.Now()
	r.BestLoss = bestLoss
	r.BestParameters = bestParams
	r.Calls = calls
}

// Summary condenses the per-call losses into a few distribution markers.
type Summary struct {
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	P90    float64 `json:"p90"`
}

// Summarize computes loss distribution markers across the recorded calls.
func (r *RunRecord) Summarize() Summary {
	if len(r.Convergence) == 0 {
		return Summary{}
	}
	losses := make([]float64, len(r.Convergence))
	for i, c := range r.Convergence {
		losses[i] = c.Loss
	}
	sort.Float64s(losses)
	return Summary{
		Min:    losses[0],
		Median: stat.Quantile(0.5, stat.Empirical, losses, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, losses, nil),
	}
}

// SetupResultsDir creates a fresh timestamped directory for one case run
// under root and returns its path.
func SetupResultsDir(root, caseName string) (string, error) {
	sanitized := strings.NewReplacer(".", "_", " ", "_").Replace(caseName)
	name := fmt.Sprintf("run_%s_%s", sanitized, time.Now().Format("2006-01-02_15-04-05"))
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}
	return dir, nil
}

// Save writes the run record and the best parameter set into dir.
func (r *RunRecord) Save(dir string) error {
	if err := writeJSON(filepath.Join(dir, "run_record.json"), r); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, "best_parameters.json"), r.BestParameters)
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
