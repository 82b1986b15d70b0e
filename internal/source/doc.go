// Package source produces reconcile requests for the control loop.
//
// Two variants implement Source:
//   - WatchSource lists and watches QueueAutoscaler-shaped custom resources
//     through the dynamic client. Group, version and plural are configuration.
//   - TickerSource emits a Tick for one statically configured target at a
//     fixed interval.
//
// # Watch State Machine
//
// WatchSource runs an explicit state machine. NextState holds the whole
// transition table:
//
//	Connecting --Connected-----> Streaming
//	Connecting --ConnectFailed-> Backoff
//	Streaming  --StreamEnded---> Backoff
//	Backoff    --DelayElapsed--> Connecting
//	any        --Shutdown------> Terminated
//
// Every connect lists the full current set and emits Added for each item
// before watching from the list's resourceVersion. Items that vanished while
// disconnected are emitted as Deleted. Resources that already existed are
// therefore redelivered as Added after each reconnect; the scaling policy and
// the actuator are idempotent, so a redelivery costs at most a read.
package source
