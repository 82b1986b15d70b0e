// Package v1alpha1 contains API Schema definitions for the queue v1alpha1 API group.
// +kubebuilder:object:generate=true
// +groupName=queue.llm-d.ai
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects.
	GroupVersion = schema.GroupVersion{Group: "queue.llm-d.ai", Version: "v1alpha1"}

	// Resource is the plural resource name served for QueueAutoscaler.
	Resource = "queueautoscalers"

	// Kind is the kind of the QueueAutoscaler type.
	Kind = "QueueAutoscaler"

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme.
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)
