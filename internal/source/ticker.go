package source

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
)

// TickerSource emits a Tick for one static target immediately and then every interval.
type TickerSource struct {
	key      types.NamespacedName
	interval time.Duration
}

var _ Source = (*TickerSource)(nil)

// NewTickerSource creates a TickerSource for the target identified by key.
func NewTickerSource(key types.NamespacedName, interval time.Duration) *TickerSource {
	return &TickerSource{key: key, interval: interval}
}

func (t *TickerSource) Start(ctx context.Context, out chan<- interfaces.ReconcileRequest) error {
	logger := ctrl.LoggerFrom(ctx).WithName("ticker-source")
	logger.Info("Polling static target", "target", t.key.String(), "interval", t.interval.String())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		if !send(ctx, out, interfaces.ReconcileRequest{Key: t.key, Kind: interfaces.EventTick}) {
			return nil
		}
		logger.V(logging.TRACE).Info("Tick emitted", "target", t.key.String())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
