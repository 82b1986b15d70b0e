package source

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	ctrl "sigs.k8s.io/controller-runtime"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/metrics"
)

// Defaults applied to zero WatchOptions fields.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultWatchTimeout   = 5 * time.Minute
	DefaultAPITimeout     = 10 * time.Second
)

// WatchOptions configures a WatchSource.
type WatchOptions struct {
	GVR schema.GroupVersionResource
	// Namespace restricts the watch. Empty watches all namespaces.
	Namespace string
	// ResyncInterval re-emits a Tick for every known resource. Zero disables resync.
	ResyncInterval time.Duration
	// WatchTimeout is the server-side lifetime of one watch request.
	WatchTimeout time.Duration
	// APITimeout bounds the list request.
	APITimeout time.Duration
	// BackOff yields the delay before each reconnect. Defaults to a constant DefaultReconnectDelay.
	BackOff backoff.BackOff
}

// NewReconnectBackOff builds the reconnect delay policy: "constant" waits delay every time,
// "exponential" starts at delay and grows up to maxDelay.
func NewReconnectBackOff(kind string, delay, maxDelay time.Duration) (backoff.BackOff, error) {
	switch kind {
	case "", "constant":
		return backoff.NewConstantBackOff(delay), nil
	case "exponential":
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = delay
		b.MaxInterval = maxDelay
		b.Reset()
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported reconnect backoff: %q", kind)
	}
}

// WatchSource emits a request for every change to the watched custom resources.
type WatchSource struct {
	client dynamic.Interface
	opts   WatchOptions

	// known is the last state of every resource seen. Only the Start goroutine touches it.
	known map[types.NamespacedName]*queuev1alpha1.QueueAutoscaler
	state atomic.Int32
}

var _ Source = (*WatchSource)(nil)

// NewWatchSource creates a WatchSource.
func NewWatchSource(client dynamic.Interface, opts WatchOptions) *WatchSource {
	if opts.WatchTimeout <= 0 {
		opts.WatchTimeout = DefaultWatchTimeout
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = DefaultAPITimeout
	}
	if opts.BackOff == nil {
		opts.BackOff = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	w := &WatchSource{
		client: client,
		opts:   opts,
		known:  map[types.NamespacedName]*queuev1alpha1.QueueAutoscaler{},
	}
	w.state.Store(int32(StateConnecting))
	return w
}

// State reports the current connection state.
func (w *WatchSource) State() State {
	return State(w.state.Load())
}

func (w *WatchSource) resource() dynamic.ResourceInterface {
	if w.opts.Namespace == "" {
		return w.client.Resource(w.opts.GVR)
	}
	return w.client.Resource(w.opts.GVR).Namespace(w.opts.Namespace)
}

// Start runs the watch state machine until ctx is cancelled.
func (w *WatchSource) Start(ctx context.Context, out chan<- interfaces.ReconcileRequest) error {
	logger := ctrl.LoggerFrom(ctx).WithName("watch-source").WithValues("resource", w.opts.GVR.String())
	ctx = ctrl.LoggerInto(ctx, logger)

	var resync <-chan time.Time
	if w.opts.ResyncInterval > 0 {
		ticker := time.NewTicker(w.opts.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	var stream watch.Interface
	for {
		state := w.State()
		var trigger Trigger
		switch state {
		case StateConnecting:
			var err error
			stream, err = w.connect(ctx, out)
			switch {
			case ctx.Err() != nil:
				trigger = TriggerShutdown
			case err != nil:
				logger.Error(err, "Failed to establish watch")
				trigger = TriggerConnectFailed
			default:
				trigger = TriggerConnected
			}
		case StateStreaming:
			trigger = w.stream(ctx, stream, out, resync)
			stream.Stop()
			stream = nil
		case StateBackoff:
			trigger = w.wait(ctx, out, resync)
		case StateTerminated:
			if stream != nil {
				stream.Stop()
			}
			return nil
		}

		next, err := NextState(state, trigger)
		if err != nil {
			return err
		}
		logger.V(logging.DEBUG).Info("Watch state transition", "from", state.String(), "on", trigger.String(), "to", next.String())
		switch next {
		case StateStreaming:
			w.opts.BackOff.Reset()
		case StateConnecting:
			metrics.WatchReconnectsTotal.Inc()
		}
		w.state.Store(int32(next))
	}
}

// connect lists the current set, emits it, and opens a watch from the list's resourceVersion.
func (w *WatchSource) connect(ctx context.Context, out chan<- interfaces.ReconcileRequest) (watch.Interface, error) {
	logger := ctrl.LoggerFrom(ctx)

	listCtx, cancel := context.WithTimeout(ctx, w.opts.APITimeout)
	list, err := w.resource().List(listCtx, metav1.ListOptions{})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	seen := make(map[types.NamespacedName]bool, len(list.Items))
	for i := range list.Items {
		qa, err := toQueueAutoscaler(&list.Items[i])
		if err != nil {
			logger.Error(err, "Skipping malformed resource",
				"namespace", list.Items[i].GetNamespace(), "name", list.Items[i].GetName())
			continue
		}
		key := keyOf(qa)
		seen[key] = true
		w.known[key] = qa
		if !send(ctx, out, interfaces.ReconcileRequest{Key: key, Kind: interfaces.EventAdded, Resource: qa}) {
			return nil, ctx.Err()
		}
	}
	// resources deleted while disconnected
	for _, key := range sortedKeys(w.known) {
		if seen[key] {
			continue
		}
		qa := w.known[key]
		delete(w.known, key)
		if !send(ctx, out, interfaces.ReconcileRequest{Key: key, Kind: interfaces.EventDeleted, Resource: qa}) {
			return nil, ctx.Err()
		}
	}

	timeout := int64(w.opts.WatchTimeout / time.Second)
	stream, err := w.resource().Watch(ctx, metav1.ListOptions{
		ResourceVersion: list.GetResourceVersion(),
		TimeoutSeconds:  &timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	logger.Info("Watch established", "resources", len(seen), "resourceVersion", list.GetResourceVersion())
	return stream, nil
}

// stream forwards watch events until the stream ends or ctx is cancelled.
func (w *WatchSource) stream(ctx context.Context, stream watch.Interface, out chan<- interfaces.ReconcileRequest, resync <-chan time.Time) Trigger {
	logger := ctrl.LoggerFrom(ctx)
	for {
		select {
		case <-ctx.Done():
			return TriggerShutdown
		case <-resync:
			if !w.emitResync(ctx, out) {
				return TriggerShutdown
			}
		case ev, ok := <-stream.ResultChan():
			if !ok {
				logger.Info("Watch stream closed", "error", ErrWatchStreamBroken.Error())
				return TriggerStreamEnded
			}
			if ev.Type == watch.Error {
				logger.Error(apierrors.FromObject(ev.Object), "Watch stream reported an error")
				return TriggerStreamEnded
			}
			if !w.handleEvent(ctx, logger, ev, out) {
				return TriggerShutdown
			}
		}
	}
}

func (w *WatchSource) handleEvent(ctx context.Context, logger logr.Logger, ev watch.Event, out chan<- interfaces.ReconcileRequest) bool {
	u, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		logger.Info("Ignoring unexpected watch object", "type", fmt.Sprintf("%T", ev.Object))
		return true
	}

	var kind interfaces.EventKind
	switch ev.Type {
	case watch.Added:
		kind = interfaces.EventAdded
	case watch.Modified:
		kind = interfaces.EventModified
	case watch.Deleted:
		kind = interfaces.EventDeleted
	default:
		// bookmarks carry no object change
		return true
	}

	qa, err := toQueueAutoscaler(u)
	if err != nil {
		if kind != interfaces.EventDeleted {
			logger.Error(err, "Skipping malformed resource", "namespace", u.GetNamespace(), "name", u.GetName())
			return true
		}
		// a deleted object only needs its identity
		qa = &queuev1alpha1.QueueAutoscaler{}
		qa.Namespace, qa.Name, qa.UID = u.GetNamespace(), u.GetName(), u.GetUID()
	}

	key := keyOf(qa)
	if kind == interfaces.EventDeleted {
		delete(w.known, key)
	} else {
		w.known[key] = qa
	}
	logger.V(logging.DEBUG).Info("Resource event", "type", string(kind), "namespace", key.Namespace, "name", key.Name)
	return send(ctx, out, interfaces.ReconcileRequest{Key: key, Kind: kind, Resource: qa})
}

// wait sleeps for the next backoff delay, still serving resync ticks for known resources.
func (w *WatchSource) wait(ctx context.Context, out chan<- interfaces.ReconcileRequest, resync <-chan time.Time) Trigger {
	delay := w.opts.BackOff.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = DefaultReconnectDelay
	}
	ctrl.LoggerFrom(ctx).Info("Reconnecting watch after delay", "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return TriggerShutdown
		case <-timer.C:
			return TriggerDelayElapsed
		case <-resync:
			if !w.emitResync(ctx, out) {
				return TriggerShutdown
			}
		}
	}
}

func (w *WatchSource) emitResync(ctx context.Context, out chan<- interfaces.ReconcileRequest) bool {
	for _, key := range sortedKeys(w.known) {
		if !send(ctx, out, interfaces.ReconcileRequest{Key: key, Kind: interfaces.EventTick, Resource: w.known[key]}) {
			return false
		}
	}
	return true
}

func toQueueAutoscaler(u *unstructured.Unstructured) (*queuev1alpha1.QueueAutoscaler, error) {
	qa := &queuev1alpha1.QueueAutoscaler{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), qa); err != nil {
		return nil, fmt.Errorf("convert %s/%s: %w", u.GetNamespace(), u.GetName(), err)
	}
	return qa, nil
}

func keyOf(qa *queuev1alpha1.QueueAutoscaler) types.NamespacedName {
	return types.NamespacedName{Namespace: qa.Namespace, Name: qa.Name}
}

func sortedKeys(m map[types.NamespacedName]*queuev1alpha1.QueueAutoscaler) []types.NamespacedName {
	keys := make([]types.NamespacedName, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b types.NamespacedName) int {
		return cmp.Or(cmp.Compare(a.Namespace, b.Namespace), cmp.Compare(a.Name, b.Name))
	})
	return keys
}
