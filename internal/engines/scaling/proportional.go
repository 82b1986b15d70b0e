package scaling

import (
	"fmt"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// Proportional sizes the consumer to one replica per threshold messages, plus one.
// A queue at or below threshold runs at the minimum.
type Proportional struct{}

var _ Policy = (*Proportional)(nil)

func (p *Proportional) Decide(messageCount int64, spec interfaces.AutoscaleSpec, current *int32) interfaces.ReplicaDecision {
	if messageCount > int64(spec.Threshold) {
		want := messageCount/int64(spec.Threshold) + 1
		return interfaces.ReplicaDecision{
			Desired: clamp(want, spec.MinReplicas, spec.MaxReplicas),
			Current: current,
			Reason:  fmt.Sprintf("%d messages over threshold %d: %d replicas wanted", messageCount, spec.Threshold, want),
		}
	}
	return interfaces.ReplicaDecision{
		Desired: clamp(int64(spec.MinReplicas), spec.MinReplicas, spec.MaxReplicas),
		Current: current,
		Reason:  fmt.Sprintf("%d messages within threshold %d", messageCount, spec.Threshold),
	}
}
