/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package collector reads the current depth of a message queue from its broker.
//
// # Sources
//
// Three interchangeable QueueDepthSource implementations are provided, selected by
// the metric-source configuration value:
//   - amqp: connects over AMQP 0-9-1 and passively declares the queue. The declare
//     reports the ready message count without creating the queue when it is absent.
//   - management: issues an authenticated GET against the RabbitMQ management API
//     (/api/queues/{vhost}/{queue}) and reads the "messages" field.
//   - redis: runs LLEN against a list-backed queue.
//
// # Timeouts
//
// Every fetch is bounded. Sources apply their own configured timeout on top of any
// deadline already carried by the context, and the amqp source additionally bounds
// the TCP dial and handshake. Connections are released on every exit path.
//
// # Error Handling
//
// Every failure (unreachable broker, rejected credentials, missing queue, timeout,
// malformed response) is returned as a *MetricError. MetricError is always retryable:
// callers skip the current cycle and leave the replica count untouched.
//
//	depth, err := src.Fetch(ctx, spec)
//	var merr *collector.MetricError
//	if errors.As(err, &merr) {
//		// no decision this cycle
//	}
package collector
