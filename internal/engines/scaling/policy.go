package scaling

import (
	"fmt"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// Policy maps an observed queue depth to a desired replica count.
// Implementations are pure and safe for concurrent use.
type Policy interface {
	// Decide computes the replica decision for one cycle. messageCount must be >= 0 and
	// spec must satisfy AutoscaleSpec.Validate. current is nil when the target is absent.
	Decide(messageCount int64, spec interfaces.AutoscaleSpec, current *int32) interfaces.ReplicaDecision
}

// PolicyStrategy is an enumeration of the different strategies that can be used by the Policy
type PolicyStrategy int

// enumeration of PolicyStrategy
const (
	ProportionalStrategy PolicyStrategy = iota
	IncrementalStrategy
)

func (s PolicyStrategy) String() string {
	switch s {
	case ProportionalStrategy:
		return "proportional"
	case IncrementalStrategy:
		return "incremental"
	default:
		return fmt.Sprintf("PolicyStrategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration value to a PolicyStrategy.
func ParseStrategy(name string) (PolicyStrategy, error) {
	switch name {
	case "proportional":
		return ProportionalStrategy, nil
	case "incremental":
		return IncrementalStrategy, nil
	default:
		return 0, fmt.Errorf("unsupported scaling policy: %q", name)
	}
}

// NewPolicy is a factory that creates a new Policy based on the provided strategy
func NewPolicy(strategy PolicyStrategy) (Policy, error) {
	switch strategy {
	case ProportionalStrategy:
		return &Proportional{}, nil
	case IncrementalStrategy:
		return &Incremental{}, nil
	default:
		return nil, fmt.Errorf("unsupported scaling policy: %v", strategy)
	}
}
