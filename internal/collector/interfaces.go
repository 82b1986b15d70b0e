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

package collector

import (
	"context"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// QueueDepthSource is the interface for pluggable queue depth sources.
// Implementations include AMQPSource, ManagementSource and RedisSource.
type QueueDepthSource interface {
	// Name returns the unique name of this source (e.g., "amqp", "management").
	Name() string

	// Fetch returns the number of messages currently held by the queue described by spec.
	// The connection parameters are taken from spec. Failures are returned as *MetricError.
	Fetch(ctx context.Context, spec interfaces.AutoscaleSpec) (int64, error)
}
