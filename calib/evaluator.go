package calib

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/pfc-calib/pfc-calib/calib/metrics"
)

// ResultCache is the slice of the knowledge base the evaluator needs. A
// lookup never touches the network; a storage failure degrades to a miss.
type ResultCache interface {
	Lookup(fingerprint string) (SimulationResult, bool, error)
	Store(fingerprint string, pv ParameterVector, result SimulationResult) error
}

// Scorer turns a raw simulation result into the scalar optimization signal.
type Scorer interface {
	Score(result SimulationResult) float64
}

// Job is one parameter vector in flight, identified by its dispatch ordinal.
type Job struct {
	ID     int
	Params ParameterVector
}

// Evaluator runs one job end to end: cache check, worker dispatch on a miss,
// cache store on success, and loss computation. It owns the endpoint
// lifecycle rules: a network failure retires the endpoint, every other
// failure returns it to the pool.
type Evaluator struct {
	Pool    *ServerPool
	Client  *Client
	Cache   ResultCache
	Scorer  Scorer
	Metrics *metrics.Metrics
}

// Evaluate executes the job and returns its loss. It never fails: every
// failure mode collapses to PenaltyLoss so the optimizer always receives an
// observation. By the time Evaluate returns, the endpoint it used has been
// returned to the pool or marked dead; pool capacity is never leaked.
func (ev *Evaluator) Evaluate(ctx context.Context, job Job) float64 {
	fingerprint := job.Params.Fingerprint()

	result, ok, err := ev.Cache.Lookup(fingerprint)
	if err != nil {
		logrus.Warnf("[job %d] cache lookup failed, degrading to live run: %v", job.ID, err)
	}
	if ok {
		logrus.Infof("[job %d] cache hit %s…", job.ID, fingerprint[:10])
		ev.Metrics.CacheHits.Inc()
		return ev.Scorer.Score(result)
	}
	ev.Metrics.CacheMisses.Inc()

	endpoint, err := ev.Pool.Checkout(ctx)
	if err != nil {
		// The pool drained under us: every endpoint died or the run was
		// cancelled while this job waited. The job still reports a loss.
		logrus.Warnf("[job %d] no endpoint available: %v", job.ID, err)
		return PenaltyLoss
	}

	logrus.Infof("[job %d] cache miss, dispatching to %s", job.ID, endpoint.Addr())
	result, err = ev.Client.Evaluate(endpoint, job.Params.CanonicalJSON())
	if err != nil {
		return ev.failJob(job, endpoint, err)
	}

	if err := ev.Cache.Store(fingerprint, job.Params, result); err != nil {
		logrus.Warnf("[job %d] cache store failed, result not persisted: %v", job.ID, err)
	}
	ev.Pool.Return(endpoint)

	return ev.Scorer.Score(result)
}

// failJob applies the per-error endpoint policy and converts the failure to
// a penalty observation.
func (ev *Evaluator) failJob(job Job, endpoint Endpoint, err error) float64 {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		logrus.Errorf("[job %d] retiring endpoint %s: %v", job.ID, endpoint.Addr(), err)
		ev.Metrics.NetworkFailures.Inc()
		ev.Metrics.EndpointsRetired.Inc()
		ev.Pool.MarkDead(endpoint)
		return PenaltyLoss
	}

	var remoteErr *RemoteEvaluationError
	if errors.As(err, &remoteErr) {
		ev.Metrics.RemoteFailures.Inc()
	} else {
		ev.Metrics.ProtocolFailures.Inc()
	}
	// The endpoint answered, however badly; it stays usable.
	logrus.Warnf("[job %d] failed on %s: %v", job.ID, endpoint.Addr(), err)
	ev.Pool.Return(endpoint)
	return PenaltyLoss
}
