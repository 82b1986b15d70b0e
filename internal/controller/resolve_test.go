package controller

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

func defaultSpec() interfaces.AutoscaleSpec {
	return interfaces.AutoscaleSpec{
		QueueHost:       "rabbitmq",
		QueueName:       "orders",
		QueueUser:       "guest",
		QueueCredential: "guest",
		MinReplicas:     1,
		MaxReplicas:     10,
		Threshold:       100,
	}
}

func newResolver(mode interfaces.Mode) *Resolver {
	return &Resolver{
		Defaults:         defaultSpec(),
		TargetDeployment: "fallback",
		Mode:             mode,
		OwnerGVK:         queuev1alpha1.GroupVersion.WithKind(queuev1alpha1.Kind),
	}
}

func makeAutoscaler(name string, spec queuev1alpha1.QueueAutoscalerSpec) *queuev1alpha1.QueueAutoscaler {
	return &queuev1alpha1.QueueAutoscaler{
		ObjectMeta: metav1.ObjectMeta{Namespace: testNamespace, Name: name, UID: types.UID("uid-" + name)},
		Spec:       spec,
	}
}

func resourceRequest(kind interfaces.EventKind, qa *queuev1alpha1.QueueAutoscaler) interfaces.ReconcileRequest {
	return interfaces.ReconcileRequest{
		Key:      types.NamespacedName{Namespace: qa.Namespace, Name: qa.Name},
		Kind:     kind,
		Resource: qa,
	}
}

var _ = Describe("Resolver", func() {
	It("uses the configured spec for a static target", func() {
		r := newResolver(interfaces.ModeManaging)
		target, err := r.Resolve(interfaces.ReconcileRequest{
			Key:  types.NamespacedName{Namespace: testNamespace, Name: "consumer"},
			Kind: interfaces.EventTick,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Ref).To(Equal(interfaces.DeploymentRef{Namespace: testNamespace, Name: "consumer"}))
		Expect(target.Spec).To(Equal(defaultSpec()))
		Expect(target.Owner).To(BeNil())
	})

	It("fills unset resource fields from the defaults", func() {
		r := newResolver(interfaces.ModeManaging)
		qa := makeAutoscaler("payments", queuev1alpha1.QueueAutoscalerSpec{
			QueueName:   "payments",
			QueueHost:   "broker.payments",
			MaxReplicas: ptr.To(int32(20)),
		})
		target, err := r.Resolve(resourceRequest(interfaces.EventAdded, qa))
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Spec).To(Equal(interfaces.AutoscaleSpec{
			QueueHost:       "broker.payments",
			QueueName:       "payments",
			QueueUser:       "guest",
			QueueCredential: "guest",
			MinReplicas:     1,
			MaxReplicas:     20,
			Threshold:       100,
		}))
	})

	DescribeTable("managing mode target names",
		func(ref *queuev1alpha1.CrossVersionObjectReference, fallback string, want string, wantErr bool) {
			r := newResolver(interfaces.ModeManaging)
			r.TargetDeployment = fallback
			qa := makeAutoscaler("orders", queuev1alpha1.QueueAutoscalerSpec{QueueName: "orders", ScaleTargetRef: ref})
			target, err := r.Resolve(resourceRequest(interfaces.EventModified, qa))
			if wantErr {
				Expect(err).To(MatchError(errNoScaleTarget))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(target.Ref).To(Equal(interfaces.DeploymentRef{Namespace: testNamespace, Name: want}))
		},
		Entry("explicit reference", &queuev1alpha1.CrossVersionObjectReference{Kind: "Deployment", Name: "workers"}, "fallback", "workers", false),
		Entry("empty reference name", &queuev1alpha1.CrossVersionObjectReference{Kind: "Deployment"}, "fallback", "fallback", false),
		Entry("configured fallback", nil, "fallback", "fallback", false),
		Entry("nothing configured", nil, "", "", true),
	)

	It("derives the owned deployment and its owner reference", func() {
		r := newResolver(interfaces.ModeOwning)
		qa := makeAutoscaler("orders", queuev1alpha1.QueueAutoscalerSpec{QueueName: "orders"})
		target, err := r.Resolve(resourceRequest(interfaces.EventAdded, qa))
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Ref).To(Equal(interfaces.DeploymentRef{Namespace: testNamespace, Name: "orders-consumer"}))
		Expect(target.OwnerName).To(Equal("orders"))
		Expect(target.Owner).NotTo(BeNil())
		Expect(target.Owner.APIVersion).To(Equal("queue.llm-d.ai/v1alpha1"))
		Expect(target.Owner.Kind).To(Equal("QueueAutoscaler"))
		Expect(target.Owner.UID).To(Equal(types.UID("uid-orders")))
		Expect(target.Owner.Controller).To(Equal(ptr.To(true)))
	})

	DescribeTable("rejects invalid specs",
		func(spec queuev1alpha1.QueueAutoscalerSpec) {
			r := newResolver(interfaces.ModeOwning)
			_, err := r.Resolve(resourceRequest(interfaces.EventAdded, makeAutoscaler("orders", spec)))
			Expect(err).To(MatchError(interfaces.ErrInvalidSpec))
		},
		Entry("missing queue name", queuev1alpha1.QueueAutoscalerSpec{}),
		Entry("zero threshold", queuev1alpha1.QueueAutoscalerSpec{QueueName: "orders", Threshold: ptr.To(int32(0))}),
		Entry("min above max", queuev1alpha1.QueueAutoscalerSpec{QueueName: "orders", MinReplicas: ptr.To(int32(5)), MaxReplicas: ptr.To(int32(2))}),
		Entry("negative min", queuev1alpha1.QueueAutoscalerSpec{QueueName: "orders", MinReplicas: ptr.To(int32(-1))}),
	)

	It("resolves a deleted resource without validating its spec", func() {
		r := newResolver(interfaces.ModeOwning)
		qa := makeAutoscaler("orders", queuev1alpha1.QueueAutoscalerSpec{})
		target, err := r.Resolve(resourceRequest(interfaces.EventDeleted, qa))
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Ref.Name).To(Equal("orders-consumer"))
	})
})
