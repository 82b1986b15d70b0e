package source

import (
	"context"
	"errors"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// ErrWatchStreamBroken reports that a watch ended and must be re-established.
var ErrWatchStreamBroken = errors.New("watch stream broken")

// Source supplies reconcile requests.
type Source interface {
	// Start emits requests on out until ctx is cancelled. It returns nil on cancellation
	// and an error only for conditions it cannot recover from. Start never closes out.
	Start(ctx context.Context, out chan<- interfaces.ReconcileRequest) error
}

// send delivers req unless ctx ends first.
func send(ctx context.Context, out chan<- interfaces.ReconcileRequest, req interfaces.ReconcileRequest) bool {
	select {
	case out <- req:
		return true
	case <-ctx.Done():
		return false
	}
}
