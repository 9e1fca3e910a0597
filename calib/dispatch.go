package calib

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/pfc-calib/pfc-calib/calib/trace"
)

// warmStartMaxLoss filters prior observations: cached entries that score at
// or beyond this value (penalty evaluations) teach the optimizer nothing
// about the usable region and are not replayed.
const warmStartMaxLoss = 1e9

// HistoryEntry is one prior observation from the knowledge base, as consumed
// by the warm start.
type HistoryEntry struct {
	Parameters map[string]any
	Result     SimulationResult
}

// History streams previously cached evaluations for warm-starting.
type History interface {
	History() ([]HistoryEntry, error)
}

// DispatchConfig bounds one optimization case.
type DispatchConfig struct {
	// Budget is the maximum number of evaluation jobs dispatched.
	Budget int
	// InitialPoints is the size of the first exploration batch when no
	// prior observations exist. With priors, the first batch matches the
	// number of live endpoints instead.
	InitialPoints int
}

// RunResult is the outcome of one case run.
type RunResult struct {
	Best     ParameterVector
	BestLoss float64
	Calls    int
	Record   *trace.RunRecord
}

// Loop drives the optimizer's ask/tell cycle against the evaluation workers.
// It is the only caller of the optimizer, and serializes Ask/Tell on its own
// goroutine, so the optimizer needs no locking of its own.
type Loop struct {
	Space     Space
	Optimizer Optimizer
	Pool      *ServerPool
	Evaluator *Evaluator
	History   History
	Config    DispatchConfig
}

// completion is one finished evaluation reported back to the loop.
type completion struct {
	job   Job
	point Point
	loss  float64
}

// Run executes one optimization case to completion: warm start, initial
// batch, completion-driven refill, and termination on budget exhaustion or
// total pool death. Completions feed the optimizer in arrival order, which
// is not submission order.
//
// When every endpoint dies mid-run the in-flight jobs drain and Run returns
// the partial result together with *AllEndpointsDead: cached evaluations
// could still proceed, but asking for more points with no workers to run
// them would waste the optimizer's sample budget.
func (l *Loop) Run(ctx context.Context, caseName string) (*RunResult, error) {
	record := trace.NewRunRecord(caseName)
	priors := l.warmStart()

	results := make(chan completion)
	dispatched := 0
	inflight := 0

	submit := func(p Point) {
		dispatched++
		job := Job{ID: dispatched}
		pv, err := l.Space.Vector(p)
		if err != nil {
			// The optimizer produced an invalid point. It still costs a
			// call and still gets told a penalty.
			logrus.Warnf("[job %d] rejected point: %v", job.ID, err)
			inflight++
			go func() { results <- completion{job: job, point: p, loss: PenaltyLoss} }()
			return
		}
		job.Params = pv
		l.Evaluator.Metrics.JobsDispatched.Inc()
		l.Evaluator.Metrics.JobsInFlight.Inc()
		inflight++
		go func() {
			loss := l.Evaluator.Evaluate(ctx, job)
			l.Evaluator.Metrics.JobsInFlight.Dec()
			results <- completion{job: job, point: p, loss: loss}
		}()
	}

	initial := l.Config.InitialPoints
	if priors > 0 || initial <= 0 {
		initial = l.Pool.Live()
	}
	if initial > l.Config.Budget {
		initial = l.Config.Budget
	}
	logrus.Infof("dispatching initial batch of %d jobs (budget %d, %d priors)", initial, l.Config.Budget, priors)
	for _, p := range l.Optimizer.Ask(initial) {
		submit(p)
	}

	best := RunResult{BestLoss: math.Inf(1), Record: record}
	calls := 0
	var abort error

	for inflight > 0 {
		c := <-results
		inflight--
		calls++

		l.Optimizer.Tell([]Point{c.point}, []float64{c.loss})
		if c.loss < best.BestLoss {
			best.BestLoss = c.loss
			best.Best = c.job.Params
			l.Evaluator.Metrics.BestLoss.Set(c.loss)
		}
		record.Record(calls, c.loss, best.BestLoss)
		logrus.Infof("[job %d] completed with loss %.6f (best %.6f, %d/%d calls)",
			c.job.ID, c.loss, best.BestLoss, calls, l.Config.Budget)

		if abort != nil {
			continue
		}
		if l.Pool.AllDead() {
			logrus.Error("all worker endpoints are dead, aborting case after drain")
			abort = &AllEndpointsDead{}
			continue
		}
		if dispatched < l.Config.Budget {
			for _, p := range l.Optimizer.Ask(1) {
				submit(p)
			}
		}
	}

	best.Calls = calls
	record.Finish(best.BestLoss, bestParamsMap(best.Best), calls)
	if abort != nil {
		return &best, abort
	}
	return &best, nil
}

// warmStart replays the knowledge base's usable history into the optimizer
// before any live job runs. Returns the number of priors fed.
func (l *Loop) warmStart() int {
	if l.History == nil {
		return 0
	}
	entries, err := l.History.History()
	if err != nil {
		logrus.Warnf("warm start unavailable: %v", err)
		return 0
	}

	var points []Point
	var losses []float64
	for _, e := range entries {
		pv, err := l.Space.ParamsFromCanonical(e.Parameters)
		if err != nil {
			logrus.Debugf("warm start: skipping incompatible entry: %v", err)
			continue
		}
		score := l.Evaluator.Scorer.Score(e.Result)
		if score >= warmStartMaxLoss {
			continue
		}
		points = append(points, pv.Point())
		losses = append(losses, score)
	}
	if len(points) == 0 {
		logrus.Info("no prior knowledge found, starting with fresh exploration")
		return 0
	}
	l.Optimizer.Tell(points, losses)
	logrus.Infof("optimizer warm-started with %d prior observations", len(points))
	return len(points)
}

func bestParamsMap(pv ParameterVector) map[string]float64 {
	if pv.Len() == 0 {
		return nil
	}
	return pv.Map()
}
