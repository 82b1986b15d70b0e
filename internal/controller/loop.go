package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/actuator"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/collector"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/engines/scaling"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/metrics"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/source"
)

// DefaultQueueSize is the number of requests buffered per target.
const DefaultQueueSize = 16

// Actuator reads and scales target Deployments.
type Actuator interface {
	Observe(ctx context.Context, ref interfaces.DeploymentRef) (actuator.Observation, error)
	ApplyObserved(ctx context.Context, target actuator.Target, desired int32, mode interfaces.Mode, obs actuator.Observation) (actuator.Result, error)
	Delete(ctx context.Context, ref interfaces.DeploymentRef) (actuator.Result, error)
}

var _ Actuator = (*actuator.Actuator)(nil)

// Loop consumes reconcile requests from a Source and reconciles each target.
type Loop struct {
	Source   source.Source
	Metrics  collector.QueueDepthSource
	Policy   scaling.Policy
	Actuator Actuator
	Resolver *Resolver
	Mode     interfaces.Mode
	// QueueSize bounds the requests pending per target. Defaults to DefaultQueueSize.
	QueueSize int
}

var (
	_ manager.Runnable               = (*Loop)(nil)
	_ manager.LeaderElectionRunnable = (*Loop)(nil)
)

// NeedLeaderElection makes only the elected replica scale targets.
func (l *Loop) NeedLeaderElection() bool {
	return true
}

// Start runs the loop until ctx is cancelled or the source fails.
func (l *Loop) Start(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx).WithName("control-loop")
	logger.Info("Starting control loop", "mode", string(l.Mode), "metricSource", l.Metrics.Name())

	requests := make(chan interfaces.ReconcileRequest)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- l.Source.Start(ctrl.LoggerInto(ctx, logger), requests)
	}()

	// in-flight calls outlive shutdown and end on their own timeouts
	workCtx := ctrl.LoggerInto(context.WithoutCancel(ctx), logger)
	d := newDispatcher(ctx.Done(), l.queueSize(), func(j job) {
		l.reconcile(workCtx, j)
	})
	defer d.shutdown()

	for {
		select {
		case req := <-requests:
			d.dispatch(l.plan(req))
		case err := <-srcErr:
			if err != nil && ctx.Err() == nil {
				logger.Error(err, "Request source failed")
				return fmt.Errorf("request source: %w", err)
			}
			logger.Info("Control loop stopped")
			return nil
		case <-ctx.Done():
			if err := <-srcErr; err != nil {
				logger.V(logging.DEBUG).Info("Request source ended during shutdown", "error", err.Error())
			}
			logger.Info("Control loop stopped")
			return nil
		}
	}
}

func (l *Loop) queueSize() int {
	if l.QueueSize > 0 {
		return l.QueueSize
	}
	return DefaultQueueSize
}

// job is a request with its resolved target. key names the worker that runs it.
type job struct {
	key    string
	req    interfaces.ReconcileRequest
	target actuator.Target
	err    error
}

// plan resolves req. Jobs are keyed by the target Deployment, so resources that share
// a Deployment are serialized with each other; unresolvable requests keep their own key.
func (l *Loop) plan(req interfaces.ReconcileRequest) job {
	target, err := l.Resolver.Resolve(req)
	j := job{key: "autoscaler/" + req.Key.String(), req: req, target: target, err: err}
	if err == nil {
		j.key = "deployment/" + target.Ref.String()
	}
	return j
}

// reconcile runs one cycle for j. Failures are logged and counted; none stop the loop.
func (l *Loop) reconcile(ctx context.Context, j job) {
	req, target := j.req, j.target
	logger := ctrl.LoggerFrom(ctx).WithValues("autoscaler", req.Key.String(), "event", string(req.Kind))

	if err := j.err; err != nil {
		logger.Error(err, "Skipping autoscaler")
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	logger = logger.WithValues("deployment", target.Ref.String())
	ctx = ctrl.LoggerInto(ctx, logger)

	if req.Kind == interfaces.EventDeleted {
		l.handleDeleted(ctx, req, target)
		return
	}

	depth, err := l.Metrics.Fetch(ctx, target.Spec)
	if err != nil {
		logger.Error(err, "Queue depth unavailable, no scaling decision made", "queue", target.Spec.QueueName)
		metrics.MetricErrorsTotal.WithLabelValues(l.Metrics.Name()).Inc()
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultMetricError).Inc()
		return
	}
	metrics.QueueDepth.WithLabelValues(req.Key.Namespace, req.Key.Name, target.Spec.QueueName).Set(float64(depth))

	obs, err := l.Actuator.Observe(ctx, target.Ref)
	if err != nil {
		logger.Error(err, "Failed to read target deployment")
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultError).Inc()
		return
	}

	decision := l.Policy.Decide(depth, target.Spec, obs.Current())
	metrics.DesiredReplicas.WithLabelValues(req.Key.Namespace, req.Key.Name).Set(float64(decision.Desired))
	logger.V(logging.DEBUG).Info("Scaling decision",
		"messages", depth,
		"current", currentString(decision.Current),
		"desired", decision.Desired,
		"reason", decision.Reason)

	result, err := l.Actuator.ApplyObserved(ctx, target, decision.Desired, l.Mode, obs)
	switch {
	case errors.Is(err, actuator.ErrTargetNotFound):
		logger.Info("Target deployment not found, nothing to scale")
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	case err != nil:
		logger.Error(err, "Failed to apply scaling decision", "desired", decision.Desired)
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	metrics.ReconcileTotal.WithLabelValues(resultLabel(result)).Inc()
}

func (l *Loop) handleDeleted(ctx context.Context, req interfaces.ReconcileRequest, target actuator.Target) {
	logger := ctrl.LoggerFrom(ctx)
	defer metrics.Forget(req.Key.Namespace, req.Key.Name)

	if l.Mode != interfaces.ModeOwning {
		logger.Info("Autoscaler removed, leaving deployment in place")
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultSkipped).Inc()
		return
	}
	result, err := l.Actuator.Delete(ctx, target.Ref)
	if err != nil {
		logger.Error(err, "Failed to delete owned deployment")
		metrics.ReconcileTotal.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	metrics.ReconcileTotal.WithLabelValues(resultLabel(result)).Inc()
}

func resultLabel(r actuator.Result) string {
	switch r {
	case actuator.ResultPatched:
		return metrics.ResultScaled
	case actuator.ResultCreated:
		return metrics.ResultCreated
	case actuator.ResultDeleted:
		return metrics.ResultDeleted
	case actuator.ResultNotFound:
		return metrics.ResultSkipped
	default:
		return metrics.ResultUnchanged
	}
}

func currentString(current *int32) string {
	if current == nil {
		return "absent"
	}
	return fmt.Sprint(*current)
}

// dispatcher fans jobs out to one worker per key. It is only used from the loop goroutine.
type dispatcher struct {
	stop      <-chan struct{}
	queueSize int
	handle    func(job)

	workers map[string]*worker
	// retired holds the done channels of workers still draining after a Deleted request.
	retired map[string]<-chan struct{}
	wg      sync.WaitGroup
}

type worker struct {
	queue chan job
	done  chan struct{}
}

func newDispatcher(stop <-chan struct{}, queueSize int, handle func(job)) *dispatcher {
	return &dispatcher{
		stop:      stop,
		queueSize: queueSize,
		handle:    handle,
		workers:   make(map[string]*worker),
		retired:   make(map[string]<-chan struct{}),
	}
}

// dispatch hands j to its key's worker, starting one if needed. It blocks while the
// worker's queue is full, unless the loop is stopping.
func (d *dispatcher) dispatch(j job) {
	key := j.key
	w, ok := d.workers[key]
	if !ok {
		w = d.spawn(key)
	}
	select {
	case w.queue <- j:
	case <-d.stop:
		return
	}
	if j.req.Kind == interfaces.EventDeleted {
		close(w.queue)
		delete(d.workers, key)
		d.pruneRetired()
		d.retired[key] = w.done
	}
}

func (d *dispatcher) spawn(key string) *worker {
	w := &worker{
		queue: make(chan job, d.queueSize),
		done:  make(chan struct{}),
	}
	prev := d.retired[key]
	delete(d.retired, key)
	d.workers[key] = w

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(w.done)
		if prev != nil {
			<-prev
		}
		for j := range w.queue {
			select {
			case <-d.stop:
				// drain without work once the loop is stopping
				continue
			default:
			}
			d.handle(j)
		}
	}()
	return w
}

func (d *dispatcher) pruneRetired() {
	for key, done := range d.retired {
		select {
		case <-done:
			delete(d.retired, key)
		default:
		}
	}
}

// shutdown closes every queue and waits for in-flight work to finish.
func (d *dispatcher) shutdown() {
	for key, w := range d.workers {
		close(w.queue)
		delete(d.workers, key)
	}
	d.wg.Wait()
}
