package source

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NextState", func() {
	DescribeTable("valid transitions",
		func(from State, on Trigger, want State) {
			got, err := NextState(from, on)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("connect succeeds", StateConnecting, TriggerConnected, StateStreaming),
		Entry("connect fails", StateConnecting, TriggerConnectFailed, StateBackoff),
		Entry("stream ends", StateStreaming, TriggerStreamEnded, StateBackoff),
		Entry("delay elapses", StateBackoff, TriggerDelayElapsed, StateConnecting),
		Entry("shutdown while connecting", StateConnecting, TriggerShutdown, StateTerminated),
		Entry("shutdown while streaming", StateStreaming, TriggerShutdown, StateTerminated),
		Entry("shutdown while backing off", StateBackoff, TriggerShutdown, StateTerminated),
		Entry("terminated is absorbing", StateTerminated, TriggerShutdown, StateTerminated),
	)

	DescribeTable("invalid transitions",
		func(from State, on Trigger) {
			got, err := NextState(from, on)
			Expect(err).To(HaveOccurred())
			Expect(got).To(Equal(from))
		},
		Entry("streaming cannot connect again", StateStreaming, TriggerConnected),
		Entry("backoff skips straight to streaming", StateBackoff, TriggerConnected),
		Entry("connecting has no delay", StateConnecting, TriggerDelayElapsed),
		Entry("terminated never reconnects", StateTerminated, TriggerDelayElapsed),
		Entry("terminated never streams", StateTerminated, TriggerConnected),
	)

	It("reaches streaming again after a broken stream", func() {
		s := StateConnecting
		for _, t := range []Trigger{TriggerConnected, TriggerStreamEnded, TriggerDelayElapsed, TriggerConnected} {
			var err error
			s, err = NextState(s, t)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(s).To(Equal(StateStreaming))
		Expect(s.String()).To(Equal("Streaming"))
	})
})
