package actuator

import (
	"context"
	"sync/atomic"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/config"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

const testNamespace = "test-ns"

func newScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}

func makeDeployment(name string, replicas *int32) *appsv1.Deployment {
	labels := map[string]string{"app": name}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace, Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Replicas: replicas,
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       corev1.PodSpec{Containers: []corev1.Container{{Name: "c", Image: "busybox"}}},
			},
		},
	}
}

func makeTarget(name string) Target {
	return Target{
		Ref: interfaces.DeploymentRef{Namespace: testNamespace, Name: name},
		Spec: interfaces.AutoscaleSpec{
			QueueHost:       "rabbitmq.test-ns.svc",
			QueueName:       "orders",
			QueueUser:       "guest",
			QueueCredential: "secret",
			MinReplicas:     1,
			MaxReplicas:     10,
			Threshold:       100,
		},
		OwnerName: "orders",
		Owner: &metav1.OwnerReference{
			APIVersion: "queue.llm-d.ai/v1alpha1",
			Kind:       "QueueAutoscaler",
			Name:       "orders",
			UID:        types.UID("uid-1"),
			Controller: ptr.To(true),
		},
	}
}

// counters records the writes issued through the fake client.
type counters struct {
	patches atomic.Int32
	creates atomic.Int32
	deletes atomic.Int32
}

func newClient(c *counters, objs ...client.Object) client.Client {
	return fake.NewClientBuilder().
		WithScheme(newScheme()).
		WithObjects(objs...).
		WithInterceptorFuncs(interceptor.Funcs{
			Patch: func(ctx context.Context, cl client.WithWatch, obj client.Object, patch client.Patch, opts ...client.PatchOption) error {
				c.patches.Add(1)
				return cl.Patch(ctx, obj, patch, opts...)
			},
			Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				c.creates.Add(1)
				return cl.Create(ctx, obj, opts...)
			},
			Delete: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
				c.deletes.Add(1)
				return cl.Delete(ctx, obj, opts...)
			},
		}).
		Build()
}

func getReplicas(cl client.Client, name string) int32 {
	d := &appsv1.Deployment{}
	Expect(cl.Get(context.Background(), types.NamespacedName{Namespace: testNamespace, Name: name}, d)).To(Succeed())
	return replicas(d)
}

var _ = Describe("Actuator", func() {
	var (
		ctx context.Context
		cnt *counters
	)

	BeforeEach(func() {
		ctx = context.Background()
		cnt = &counters{}
	})

	Context("managing mode", func() {
		It("patches replicas when they differ", func() {
			cl := newClient(cnt, makeDeployment("consumer", ptr.To(int32(1))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			result, err := act.Apply(ctx, makeTarget("consumer"), 4, interfaces.ModeManaging)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultPatched))
			Expect(cnt.patches.Load()).To(Equal(int32(1)))
			Expect(getReplicas(cl, "consumer")).To(Equal(int32(4)))
		})

		It("issues no write when replicas already match", func() {
			cl := newClient(cnt, makeDeployment("consumer", ptr.To(int32(3))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			result, err := act.Apply(ctx, makeTarget("consumer"), 3, interfaces.ModeManaging)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultUnchanged))
			Expect(cnt.patches.Load()).To(BeZero())
		})

		It("treats unset replicas as one", func() {
			cl := newClient(cnt, makeDeployment("consumer", nil))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			result, err := act.Apply(ctx, makeTarget("consumer"), 1, interfaces.ModeManaging)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultUnchanged))
		})

		It("is idempotent across repeated applies", func() {
			cl := newClient(cnt, makeDeployment("consumer", ptr.To(int32(1))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			for range 3 {
				_, err := act.Apply(ctx, makeTarget("consumer"), 5, interfaces.ModeManaging)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(cnt.patches.Load()).To(Equal(int32(1)))
			Expect(getReplicas(cl, "consumer")).To(Equal(int32(5)))
		})

		It("reports a missing target without creating it", func() {
			cl := newClient(cnt)
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			result, err := act.Apply(ctx, makeTarget("consumer"), 2, interfaces.ModeManaging)
			Expect(err).To(MatchError(ErrTargetNotFound))
			Expect(result).To(Equal(ResultNotFound))
			Expect(cnt.creates.Load()).To(BeZero())
			Expect(cnt.patches.Load()).To(BeZero())
		})

		It("rejects a patch computed from a stale observation", func() {
			cl := newClient(cnt, makeDeployment("consumer", ptr.To(int32(1))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			obs, err := act.Observe(ctx, makeTarget("consumer").Ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(obs.Current()).To(Equal(ptr.To(int32(1))))

			// an external edit lands between the read and the write
			external := obs.Deployment.DeepCopy()
			external.Spec.Replicas = ptr.To(int32(7))
			Expect(cl.Update(ctx, external)).To(Succeed())

			_, err = act.ApplyObserved(ctx, makeTarget("consumer"), 4, interfaces.ModeManaging, obs)
			Expect(apierrors.IsConflict(err)).To(BeTrue(), "expected conflict, got %v", err)
			Expect(getReplicas(cl, "consumer")).To(Equal(int32(7)))
		})
	})

	Context("owning mode", func() {
		It("creates the deployment from the template when absent", func() {
			cl := newClient(cnt)
			tmpl := config.DefaultWorkerTemplate()
			tmpl.Env = map[string]string{"PREFETCH": "10"}
			act := NewActuator(cl, tmpl, 0)

			target := makeTarget(OwnedName("orders"))
			result, err := act.Apply(ctx, target, 2, interfaces.ModeOwning)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultCreated))
			Expect(cnt.creates.Load()).To(Equal(int32(1)))

			d := &appsv1.Deployment{}
			Expect(cl.Get(ctx, target.Ref.NamespacedName(), d)).To(Succeed())
			Expect(*d.Spec.Replicas).To(Equal(int32(2)))
			Expect(d.Labels).To(HaveKeyWithValue(AppLabel, "orders-consumer"))
			Expect(d.Labels).To(HaveKeyWithValue(OwnerLabel, "orders"))
			Expect(d.Spec.Selector.MatchLabels).To(Equal(map[string]string{AppLabel: "orders-consumer"}))
			Expect(d.OwnerReferences).To(HaveLen(1))
			Expect(d.OwnerReferences[0].UID).To(Equal(types.UID("uid-1")))

			c := d.Spec.Template.Spec.Containers[0]
			Expect(c.Name).To(Equal(config.DefaultWorkerContainerName))
			Expect(c.Image).To(Equal(config.DefaultWorkerImage))
			wantEnv := []corev1.EnvVar{
				{Name: EnvQueueHost, Value: "rabbitmq.test-ns.svc"},
				{Name: EnvQueueName, Value: "orders"},
				{Name: EnvQueueUser, Value: "guest"},
				{Name: EnvQueuePassword, Value: "secret"},
				{Name: "PREFETCH", Value: "10"},
			}
			Expect(cmp.Diff(wantEnv, c.Env)).To(BeEmpty())
			Expect(c.Resources.Limits.Memory().String()).To(Equal(config.DefaultWorkerMemoryLimit))
			Expect(c.Resources.Requests.Cpu().String()).To(Equal(config.DefaultWorkerCPURequest))
		})

		It("patches an existing owned deployment only on mismatch", func() {
			cl := newClient(cnt, makeDeployment(OwnedName("orders"), ptr.To(int32(2))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)
			target := makeTarget(OwnedName("orders"))

			result, err := act.Apply(ctx, target, 2, interfaces.ModeOwning)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultUnchanged))

			result, err = act.Apply(ctx, target, 6, interfaces.ModeOwning)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultPatched))
			Expect(cnt.creates.Load()).To(BeZero())
			Expect(cnt.patches.Load()).To(Equal(int32(1)))
		})

		It("falls back to patching when creation races an existing deployment", func() {
			cl := newClient(cnt, makeDeployment(OwnedName("orders"), ptr.To(int32(1))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)
			target := makeTarget(OwnedName("orders"))

			// the cycle believed the target was absent
			result, err := act.ApplyObserved(ctx, target, 3, interfaces.ModeOwning, Observation{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultPatched))
			Expect(cnt.creates.Load()).To(Equal(int32(1)))
			Expect(getReplicas(cl, OwnedName("orders"))).To(Equal(int32(3)))
		})

		It("deletes the owned deployment", func() {
			cl := newClient(cnt, makeDeployment(OwnedName("orders"), ptr.To(int32(1))))
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)
			ref := makeTarget(OwnedName("orders")).Ref

			result, err := act.Delete(ctx, ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultDeleted))

			obs, err := act.Observe(ctx, ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(obs.Deployment).To(BeNil())
			Expect(obs.Current()).To(BeNil())
		})

		It("treats deleting an absent deployment as success", func() {
			cl := newClient(cnt)
			act := NewActuator(cl, config.DefaultWorkerTemplate(), 0)

			result, err := act.Delete(ctx, makeTarget(OwnedName("orders")).Ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultNotFound))

			result, err = act.Delete(ctx, makeTarget(OwnedName("orders")).Ref)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ResultNotFound))
		})
	})

	Describe("OwnedName", func() {
		It("is derived from the resource name", func() {
			Expect(OwnedName("orders")).To(Equal("orders-consumer"))
			Expect(OwnedName("orders")).To(Equal(OwnedName("orders")))
		})
	})
})
