package actuator

import (
	"maps"
	"slices"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/config"
)

const (
	// AppLabel selects the pods of an owned Deployment.
	AppLabel = "app"
	// OwnerLabel records the QueueAutoscaler an owned Deployment serves.
	OwnerLabel = "queue.llm-d.ai/autoscaler"
	// ManagedByLabel marks Deployments created by this controller.
	ManagedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "queue-autoscaler"
)

// Environment variables carrying the queue connection parameters into an owned consumer.
const (
	EnvQueueHost     = "QUEUE_HOST"
	EnvQueueName     = "QUEUE_NAME"
	EnvQueueUser     = "QUEUE_USER"
	EnvQueuePassword = "QUEUE_PASSWORD"
)

// OwnedName is the deterministic name of the Deployment owned by the named resource.
func OwnedName(resourceName string) string {
	return resourceName + "-consumer"
}

// BuildDeployment renders the owned consumer Deployment for target.
func BuildDeployment(target Target, tmpl config.WorkerTemplate, replicas int32) *appsv1.Deployment {
	selector := map[string]string{AppLabel: target.Ref.Name}

	labels := maps.Clone(tmpl.Labels)
	if labels == nil {
		labels = map[string]string{}
	}
	maps.Copy(labels, selector)
	labels[ManagedByLabel] = managedByValue
	if target.OwnerName != "" {
		labels[OwnerLabel] = target.OwnerName
	}

	env := []corev1.EnvVar{
		{Name: EnvQueueHost, Value: target.Spec.QueueHost},
		{Name: EnvQueueName, Value: target.Spec.QueueName},
		{Name: EnvQueueUser, Value: target.Spec.QueueUser},
		{Name: EnvQueuePassword, Value: target.Spec.QueueCredential},
	}
	for _, name := range slices.Sorted(maps.Keys(tmpl.Env)) {
		env = append(env, corev1.EnvVar{Name: name, Value: tmpl.Env[name]})
	}

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      target.Ref.Name,
			Namespace: target.Ref.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: maps.Clone(labels)},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:            tmpl.ContainerName,
						Image:           tmpl.Image,
						ImagePullPolicy: corev1.PullPolicy(tmpl.ImagePullPolicy),
						Env:             env,
						Resources:       tmpl.ResourceRequirements(),
					}},
				},
			},
		},
	}
	if target.Owner != nil {
		deploy.OwnerReferences = []metav1.OwnerReference{*target.Owner}
	}
	return deploy
}
