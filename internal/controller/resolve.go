package controller

import (
	"errors"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/ptr"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/actuator"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

var errNoScaleTarget = errors.New("no scale target: set spec.scaleTargetRef or the target deployment")

// Resolver turns a reconcile request into a fully specified actuation target.
type Resolver struct {
	// Defaults supplies every spec field a resource leaves unset, and the whole spec of a static target.
	Defaults interfaces.AutoscaleSpec
	// TargetDeployment is the managing-mode target when a resource names none.
	TargetDeployment string
	Mode             interfaces.Mode
	// OwnerGVK identifies the watched resource in owner references.
	OwnerGVK schema.GroupVersionKind
}

// Resolve computes the target of req. The spec of a Deleted request is not validated:
// only the Deployment identity is needed to act on it.
func (r *Resolver) Resolve(req interfaces.ReconcileRequest) (actuator.Target, error) {
	if req.Resource == nil {
		target := actuator.Target{
			Ref:  interfaces.DeploymentRef{Namespace: req.Key.Namespace, Name: req.Key.Name},
			Spec: r.Defaults,
		}
		return target, target.Spec.Validate()
	}

	qa := req.Resource
	target := actuator.Target{Spec: r.mergeSpec(qa.Spec)}
	switch r.Mode {
	case interfaces.ModeOwning:
		target.Ref = interfaces.DeploymentRef{Namespace: qa.Namespace, Name: actuator.OwnedName(qa.Name)}
		target.OwnerName = qa.Name
		if qa.UID != "" {
			target.Owner = &metav1.OwnerReference{
				APIVersion:         r.OwnerGVK.GroupVersion().String(),
				Kind:               r.OwnerGVK.Kind,
				Name:               qa.Name,
				UID:                qa.UID,
				Controller:         ptr.To(true),
				BlockOwnerDeletion: ptr.To(true),
			}
		}
	default:
		name := r.TargetDeployment
		if ref := qa.Spec.ScaleTargetRef; ref != nil && ref.Name != "" {
			name = ref.Name
		}
		if name == "" {
			return target, fmt.Errorf("%w: %s/%s", errNoScaleTarget, qa.Namespace, qa.Name)
		}
		target.Ref = interfaces.DeploymentRef{Namespace: qa.Namespace, Name: name}
	}

	if req.Kind == interfaces.EventDeleted {
		return target, nil
	}
	return target, target.Spec.Validate()
}

func (r *Resolver) mergeSpec(in queuev1alpha1.QueueAutoscalerSpec) interfaces.AutoscaleSpec {
	out := r.Defaults
	out.QueueName = in.QueueName
	if in.QueueHost != "" {
		out.QueueHost = in.QueueHost
	}
	if in.QueueUser != "" {
		out.QueueUser = in.QueueUser
	}
	if in.QueuePassword != "" {
		out.QueueCredential = in.QueuePassword
	}
	if in.MinReplicas != nil {
		out.MinReplicas = *in.MinReplicas
	}
	if in.MaxReplicas != nil {
		out.MaxReplicas = *in.MaxReplicas
	}
	if in.Threshold != nil {
		out.Threshold = *in.Threshold
	}
	return out
}
