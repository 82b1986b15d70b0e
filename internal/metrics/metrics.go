// Package metrics exposes the control loop's Prometheus instrumentation on the
// controller-runtime metrics endpoint.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "queue_autoscaler"

// Reconcile results recorded by ReconcileTotal.
const (
	ResultScaled      = "scaled"
	ResultUnchanged   = "unchanged"
	ResultCreated     = "created"
	ResultDeleted     = "deleted"
	ResultSkipped     = "skipped"
	ResultMetricError = "metric_error"
	ResultError       = "error"
)

var (
	// QueueDepth is the last observed queue depth per target.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Last observed number of messages in the queue.",
	}, []string{"namespace", "name", "queue"})

	// DesiredReplicas is the last computed replica count per target.
	DesiredReplicas = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "desired_replicas",
		Help:      "Replica count computed by the scaling policy in the last cycle.",
	}, []string{"namespace", "name"})

	// ReconcileTotal counts reconcile cycles by outcome.
	ReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_total",
		Help:      "Reconcile cycles by result.",
	}, []string{"result"})

	// MetricErrorsTotal counts failed queue depth fetches.
	MetricErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metric_errors_total",
		Help:      "Queue depth fetches that failed.",
	}, []string{"source"})

	// WatchReconnectsTotal counts watch stream re-establishments.
	WatchReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_reconnects_total",
		Help:      "Times the resource watch was re-established after the stream ended.",
	})

	registerOnce sync.Once
)

// Register adds all collectors to the controller-runtime registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		ctrlmetrics.Registry.MustRegister(
			QueueDepth,
			DesiredReplicas,
			ReconcileTotal,
			MetricErrorsTotal,
			WatchReconnectsTotal,
		)
	})
}

// Forget drops the per-target series of a deleted target.
func Forget(ns, name string) {
	QueueDepth.DeletePartialMatch(prometheus.Labels{"namespace": ns, "name": name})
	DesiredReplicas.DeleteLabelValues(ns, name)
}
