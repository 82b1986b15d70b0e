package source

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

var _ = Describe("TickerSource", func() {
	It("emits a tick immediately and then on every interval", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan interfaces.ReconcileRequest, 16)
		done := make(chan error, 1)
		src := NewTickerSource(key("consumer-deployment"), 20*time.Millisecond)
		go func() { done <- src.Start(ctx, out) }()

		for range 3 {
			req := receive(out)
			Expect(req.Kind).To(Equal(interfaces.EventTick))
			Expect(req.Key).To(Equal(key("consumer-deployment")))
			Expect(req.Resource).To(BeNil())
		}

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("does not block shutdown when nobody reads", func() {
		ctx, cancel := context.WithCancel(context.Background())
		out := make(chan interfaces.ReconcileRequest)
		done := make(chan error, 1)
		go func() { done <- NewTickerSource(key("t"), time.Millisecond).Start(ctx, out) }()

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
