/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/config"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
)

// ErrTargetNotFound is returned when the target Deployment does not exist and may not be created.
var ErrTargetNotFound = errors.New("target deployment not found")

// DefaultAPITimeout bounds a single API call when no timeout is configured.
const DefaultAPITimeout = 10 * time.Second

// Result is the outcome of an actuation.
type Result string

const (
	ResultUnchanged Result = "Unchanged"
	ResultPatched   Result = "Patched"
	ResultCreated   Result = "Created"
	ResultDeleted   Result = "Deleted"
	ResultNotFound  Result = "NotFound"
)

// Target describes the Deployment to act on.
type Target struct {
	Ref interfaces.DeploymentRef
	// Spec supplies the connection parameters written into an owned Deployment.
	Spec interfaces.AutoscaleSpec
	// Owner is set as the controller reference of an owned Deployment. Optional.
	Owner *metav1.OwnerReference
	// OwnerName labels an owned Deployment with the resource it serves.
	OwnerName string
}

// Observation is the state of the target read at the start of a cycle.
type Observation struct {
	// Deployment is nil when the target does not exist.
	Deployment *appsv1.Deployment
}

// Current returns the observed replica count, or nil when the target is absent.
func (o Observation) Current() *int32 {
	if o.Deployment == nil {
		return nil
	}
	return ptr.To(replicas(o.Deployment))
}

// Actuator reads and writes consumer Deployments.
type Actuator struct {
	client   client.Client
	template config.WorkerTemplate
	timeout  time.Duration
}

// NewActuator creates an Actuator. c should read from the API server directly, not from a cache,
// so that every cycle observes the current replica count.
func NewActuator(c client.Client, template config.WorkerTemplate, timeout time.Duration) *Actuator {
	if timeout <= 0 {
		timeout = DefaultAPITimeout
	}
	return &Actuator{client: c, template: template, timeout: timeout}
}

// Observe reads the target Deployment. An absent target is not an error.
func (a *Actuator) Observe(ctx context.Context, ref interfaces.DeploymentRef) (Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	deploy := &appsv1.Deployment{}
	if err := a.client.Get(ctx, ref.NamespacedName(), deploy); err != nil {
		if apierrors.IsNotFound(err) {
			return Observation{}, nil
		}
		return Observation{}, fmt.Errorf("get deployment %s: %w", ref, err)
	}
	return Observation{Deployment: deploy}, nil
}

// Apply reads the target and drives its replica count to desired.
func (a *Actuator) Apply(ctx context.Context, target Target, desired int32, mode interfaces.Mode) (Result, error) {
	obs, err := a.Observe(ctx, target.Ref)
	if err != nil {
		return "", err
	}
	return a.ApplyObserved(ctx, target, desired, mode, obs)
}

// ApplyObserved drives the replica count to desired starting from an observation made in the same cycle.
// The patch is rejected with a conflict if the Deployment changed since obs was taken.
func (a *Actuator) ApplyObserved(ctx context.Context, target Target, desired int32, mode interfaces.Mode, obs Observation) (Result, error) {
	logger := ctrl.LoggerFrom(ctx).WithValues("deployment", target.Ref.String())

	if obs.Deployment != nil {
		return a.patchReplicas(ctx, obs.Deployment, desired)
	}

	if mode != interfaces.ModeOwning {
		return ResultNotFound, fmt.Errorf("%w: %s", ErrTargetNotFound, target.Ref)
	}

	deploy := BuildDeployment(target, a.template, desired)
	createCtx, cancel := context.WithTimeout(ctx, a.timeout)
	err := a.client.Create(createCtx, deploy)
	cancel()
	switch {
	case err == nil:
		logger.Info("Created consumer deployment", "replicas", desired, "image", a.template.Image)
		return ResultCreated, nil
	case apierrors.IsAlreadyExists(err):
		// created concurrently or by a redelivered event; fall back to patch-on-mismatch
		logger.V(logging.DEBUG).Info("Consumer deployment already exists, re-reading")
		obs, err = a.Observe(ctx, target.Ref)
		if err != nil {
			return "", err
		}
		if obs.Deployment == nil {
			return "", fmt.Errorf("deployment %s reported as existing but not readable", target.Ref)
		}
		return a.patchReplicas(ctx, obs.Deployment, desired)
	default:
		return "", fmt.Errorf("create deployment %s: %w", target.Ref, err)
	}
}

func (a *Actuator) patchReplicas(ctx context.Context, observed *appsv1.Deployment, desired int32) (Result, error) {
	current := replicas(observed)
	if current == desired {
		return ResultUnchanged, nil
	}

	deploy := observed.DeepCopy()
	orig := observed.DeepCopy()
	deploy.Spec.Replicas = ptr.To(desired)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.client.Patch(ctx, deploy, client.MergeFromWithOptions(orig, client.MergeFromWithOptimisticLock{})); err != nil {
		if apierrors.IsNotFound(err) {
			return ResultNotFound, fmt.Errorf("%w: %s/%s", ErrTargetNotFound, observed.Namespace, observed.Name)
		}
		return "", fmt.Errorf("patch replicas of deployment %s/%s: %w", observed.Namespace, observed.Name, err)
	}

	ctrl.LoggerFrom(ctx).Info("Scaled deployment",
		"deployment", observed.Namespace+"/"+observed.Name,
		"from", current,
		"to", desired)
	return ResultPatched, nil
}

// Delete removes the target Deployment. A Deployment that is already gone is a success.
func (a *Actuator) Delete(ctx context.Context, ref interfaces.DeploymentRef) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	deploy := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Namespace: ref.Namespace, Name: ref.Name}}
	if err := a.client.Delete(ctx, deploy, client.PropagationPolicy(metav1.DeletePropagationBackground)); err != nil {
		if apierrors.IsNotFound(err) {
			ctrl.LoggerFrom(ctx).V(logging.DEBUG).Info("Deployment already absent", "deployment", ref.String())
			return ResultNotFound, nil
		}
		return "", fmt.Errorf("delete deployment %s: %w", ref, err)
	}
	ctrl.LoggerFrom(ctx).Info("Deleted consumer deployment", "deployment", ref.String())
	return ResultDeleted, nil
}

// replicas returns the Deployment's replica count, applying the API default of 1.
func replicas(d *appsv1.Deployment) int32 {
	if d.Spec.Replicas == nil {
		return 1
	}
	return *d.Spec.Replicas
}
