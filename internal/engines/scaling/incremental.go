package scaling

import (
	"fmt"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// Incremental adds one replica per cycle while the queue is over threshold, drops to the
// minimum once the queue is empty, and holds the current count in between.
type Incremental struct{}

var _ Policy = (*Incremental)(nil)

func (p *Incremental) Decide(messageCount int64, spec interfaces.AutoscaleSpec, current *int32) interfaces.ReplicaDecision {
	// an absent target starts from the minimum
	base := int64(spec.MinReplicas)
	if current != nil {
		base = int64(*current)
	}

	var want int64
	var reason string
	switch {
	case messageCount > int64(spec.Threshold):
		want = base + 1
		reason = fmt.Sprintf("%d messages over threshold %d: step up", messageCount, spec.Threshold)
	case messageCount == 0:
		want = int64(spec.MinReplicas)
		reason = "queue empty: reset to minimum"
	default:
		want = base
		reason = fmt.Sprintf("%d messages within threshold %d: hold", messageCount, spec.Threshold)
	}
	return interfaces.ReplicaDecision{
		Desired: clamp(want, spec.MinReplicas, spec.MaxReplicas),
		Current: current,
		Reason:  reason,
	}
}
