package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
)

// Worker template defaults applied to any field the template file leaves empty.
const (
	DefaultWorkerImage         = "queue-consumer:latest"
	DefaultWorkerContainerName = "queue-consumer"
	DefaultWorkerCPURequest    = "250m"
	DefaultWorkerMemoryRequest = "64Mi"
	DefaultWorkerCPULimit      = "500m"
	DefaultWorkerMemoryLimit   = "128Mi"
)

// WorkerTemplate describes the consumer Deployment created in owning mode.
type WorkerTemplate struct {
	// Image is the consumer container image.
	Image string `yaml:"image,omitempty" json:"image,omitempty"`

	// ContainerName is the name of the consumer container.
	ContainerName string `yaml:"containerName,omitempty" json:"containerName,omitempty"`

	// ImagePullPolicy is passed through to the container; empty leaves the cluster default.
	ImagePullPolicy string `yaml:"imagePullPolicy,omitempty" json:"imagePullPolicy,omitempty"`

	// Resources are quantity strings (e.g. "250m", "64Mi") keyed by "cpu" and "memory".
	Requests map[string]string `yaml:"requests,omitempty" json:"requests,omitempty"`
	Limits   map[string]string `yaml:"limits,omitempty" json:"limits,omitempty"`

	// Labels are added to the Deployment and its pod template.
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Env is added to the consumer container after the queue connection variables.
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// DefaultWorkerTemplate returns the template used when no file is configured.
func DefaultWorkerTemplate() WorkerTemplate {
	return WorkerTemplate{
		Image:         DefaultWorkerImage,
		ContainerName: DefaultWorkerContainerName,
		Requests: map[string]string{
			string(corev1.ResourceCPU):    DefaultWorkerCPURequest,
			string(corev1.ResourceMemory): DefaultWorkerMemoryRequest,
		},
		Limits: map[string]string{
			string(corev1.ResourceCPU):    DefaultWorkerCPULimit,
			string(corev1.ResourceMemory): DefaultWorkerMemoryLimit,
		},
	}
}

// Validate checks for invalid template values.
func (t *WorkerTemplate) Validate() error {
	if t.Image == "" {
		return fmt.Errorf("image must not be empty")
	}
	if t.ContainerName == "" {
		return fmt.Errorf("containerName must not be empty")
	}
	switch corev1.PullPolicy(t.ImagePullPolicy) {
	case "", corev1.PullAlways, corev1.PullIfNotPresent, corev1.PullNever:
	default:
		return fmt.Errorf("invalid imagePullPolicy %q", t.ImagePullPolicy)
	}
	if _, err := parseResourceList(t.Requests); err != nil {
		return fmt.Errorf("invalid requests: %w", err)
	}
	if _, err := parseResourceList(t.Limits); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}
	return nil
}

// ResourceRequirements converts the template's quantity strings. The template must be valid.
func (t *WorkerTemplate) ResourceRequirements() corev1.ResourceRequirements {
	requests, _ := parseResourceList(t.Requests)
	limits, _ := parseResourceList(t.Limits)
	return corev1.ResourceRequirements{Requests: requests, Limits: limits}
}

// ParseWorkerTemplate parses a YAML worker template and fills unset fields from the defaults.
func ParseWorkerTemplate(data []byte) (WorkerTemplate, error) {
	var parsed WorkerTemplate
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return WorkerTemplate{}, fmt.Errorf("%w: parse worker template: %w", ErrConfigInvalid, err)
	}

	// Merge: file values override defaults
	result := DefaultWorkerTemplate()
	if parsed.Image != "" {
		result.Image = parsed.Image
	}
	if parsed.ContainerName != "" {
		result.ContainerName = parsed.ContainerName
	}
	if parsed.ImagePullPolicy != "" {
		result.ImagePullPolicy = parsed.ImagePullPolicy
	}
	for k, v := range parsed.Requests {
		result.Requests[k] = v
	}
	for k, v := range parsed.Limits {
		result.Limits[k] = v
	}
	result.Labels = parsed.Labels
	result.Env = parsed.Env

	if err := result.Validate(); err != nil {
		return WorkerTemplate{}, fmt.Errorf("%w: worker template: %w", ErrConfigInvalid, err)
	}
	return result, nil
}

// LoadWorkerTemplate reads the template at path. An empty path yields the defaults.
func LoadWorkerTemplate(path string) (WorkerTemplate, error) {
	if path == "" {
		ctrl.Log.V(logging.DEBUG).Info("No worker template configured, using defaults",
			"image", DefaultWorkerImage)
		return DefaultWorkerTemplate(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerTemplate{}, fmt.Errorf("%w: read worker template: %w", ErrConfigInvalid, err)
	}
	tmpl, err := ParseWorkerTemplate(data)
	if err != nil {
		return WorkerTemplate{}, err
	}
	ctrl.Log.Info("Loaded worker template",
		"path", path,
		"image", tmpl.Image,
		"container", tmpl.ContainerName)
	return tmpl, nil
}

func parseResourceList(in map[string]string) (corev1.ResourceList, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(corev1.ResourceList, len(in))
	for name, value := range in {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", name, value, err)
		}
		out[corev1.ResourceName(name)] = q
	}
	return out, nil
}
