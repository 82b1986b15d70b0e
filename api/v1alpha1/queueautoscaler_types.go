package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// QueueAutoscalerSpec defines the queue to observe and the replica bounds of its consumer workload.
type QueueAutoscalerSpec struct {
	// QueueHost is the broker address. Its form depends on the configured metric source:
	// "host[:port]" for the protocol and redis sources, "[scheme://]host[:port]" for the
	// management API. Falls back to the controller's configured host when empty.
	// +optional
	QueueHost string `json:"queueHost,omitempty"`

	// QueueName is the name of the queue whose depth drives scaling.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:Required
	QueueName string `json:"queueName"`

	// QueueUser is the broker user. Falls back to the controller's configured user when empty.
	// +optional
	QueueUser string `json:"queueUser,omitempty"`

	// QueuePassword is the broker credential. Falls back to the controller's configured
	// password when empty.
	// +optional
	QueuePassword string `json:"queuePassword,omitempty"`

	// MinReplicas is the lower replica bound. Defaults to the controller's configured minimum.
	// +kubebuilder:validation:Minimum=0
	// +optional
	MinReplicas *int32 `json:"minReplicas,omitempty"`

	// MaxReplicas is the upper replica bound. Defaults to the controller's configured maximum.
	// +kubebuilder:validation:Minimum=1
	// +optional
	MaxReplicas *int32 `json:"maxReplicas,omitempty"`

	// Threshold is the number of messages one replica is expected to absorb.
	// Defaults to the controller's configured threshold.
	// +kubebuilder:validation:Minimum=1
	// +optional
	Threshold *int32 `json:"threshold,omitempty"`

	// ScaleTargetRef references an existing Deployment to scale in managing mode.
	// Ignored in owning mode, where the controller names the Deployment itself.
	// +optional
	ScaleTargetRef *CrossVersionObjectReference `json:"scaleTargetRef,omitempty"`
}

// CrossVersionObjectReference contains enough information to let you identify the target resource.
// This is the same structure as used in HorizontalPodAutoscaler.
type CrossVersionObjectReference struct {
	// APIVersion is the API version of the target resource.
	// +optional
	APIVersion string `json:"apiVersion,omitempty"`

	// Kind is the kind of the target resource. Currently only "Deployment" is supported.
	// +kubebuilder:validation:Enum=Deployment
	// +kubebuilder:validation:Required
	Kind string `json:"kind"`

	// Name is the name of the target resource.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:Required
	Name string `json:"name"`
}

// +kubebuilder:object:root=true
// +kubebuilder:resource:shortName=qa
// +kubebuilder:printcolumn:name="Queue",type=string,JSONPath=".spec.queueName"
// +kubebuilder:printcolumn:name="Min",type=integer,JSONPath=".spec.minReplicas"
// +kubebuilder:printcolumn:name="Max",type=integer,JSONPath=".spec.maxReplicas"
// +kubebuilder:printcolumn:name="Threshold",type=integer,JSONPath=".spec.threshold"
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=".metadata.creationTimestamp"

// QueueAutoscaler is the Schema for the queueautoscalers API.
type QueueAutoscaler struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec QueueAutoscalerSpec `json:"spec,omitempty"`
}

// QueueAutoscalerList contains a list of QueueAutoscaler resources.
// +kubebuilder:object:root=true
type QueueAutoscalerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []QueueAutoscaler `json:"items"`
}

func init() {
	SchemeBuilder.Register(&QueueAutoscaler{}, &QueueAutoscalerList{})
}
