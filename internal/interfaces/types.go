// Package interfaces holds the data model shared by the sources, the scaling
// policies, the reconciler and the control loop.
package interfaces

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/types"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
)

// ErrInvalidSpec is returned by AutoscaleSpec.Validate.
var ErrInvalidSpec = errors.New("invalid autoscale spec")

// AutoscaleSpec is a fully resolved scaling configuration for one queue and its consumer.
type AutoscaleSpec struct {
	QueueHost       string
	QueueName       string
	QueueUser       string
	QueueCredential string

	MinReplicas int32
	MaxReplicas int32
	// Threshold is the number of messages one replica absorbs.
	Threshold int32
}

// Validate checks the bound and threshold invariants.
func (s AutoscaleSpec) Validate() error {
	if s.QueueName == "" {
		return fmt.Errorf("%w: queueName is empty", ErrInvalidSpec)
	}
	if s.MinReplicas < 0 {
		return fmt.Errorf("%w: minReplicas must be >= 0, got %d", ErrInvalidSpec, s.MinReplicas)
	}
	if s.MinReplicas > s.MaxReplicas {
		return fmt.Errorf("%w: minReplicas (%d) > maxReplicas (%d)", ErrInvalidSpec, s.MinReplicas, s.MaxReplicas)
	}
	if s.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be > 0, got %d", ErrInvalidSpec, s.Threshold)
	}
	return nil
}

// DeploymentRef identifies the scalable target.
type DeploymentRef struct {
	Namespace string
	Name      string
}

func (r DeploymentRef) String() string {
	return r.Namespace + "/" + r.Name
}

// NamespacedName converts the reference for use with a controller-runtime client.
func (r DeploymentRef) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Namespace: r.Namespace, Name: r.Name}
}

// ReplicaDecision is the outcome of one scaling policy evaluation.
type ReplicaDecision struct {
	Desired int32
	// Current is nil when the target does not exist yet.
	Current *int32
	Reason  string
}

// EventKind is the kind of change that produced a ReconcileRequest.
type EventKind string

const (
	EventAdded    EventKind = "Added"
	EventModified EventKind = "Modified"
	EventDeleted  EventKind = "Deleted"
	EventTick     EventKind = "Tick"
)

// ReconcileRequest asks the control loop to evaluate one target.
type ReconcileRequest struct {
	// Key identifies the target. Requests with the same key are processed in order.
	Key  types.NamespacedName
	Kind EventKind
	// Resource is the custom resource state carried by the event. It is nil for
	// requests produced for a statically configured target.
	Resource *queuev1alpha1.QueueAutoscaler
}

// Mode decides whether the controller owns the consumer workload's lifecycle.
type Mode string

const (
	// ModeManaging only patches the replica count of an existing Deployment.
	ModeManaging Mode = "managing"
	// ModeOwning creates the Deployment when absent and deletes it with its resource.
	ModeOwning Mode = "owning"
)
