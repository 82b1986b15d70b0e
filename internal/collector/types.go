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
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// SourceKind names a QueueDepthSource implementation.
type SourceKind string

const (
	SourceAMQP       SourceKind = "amqp"
	SourceManagement SourceKind = "management"
	SourceRedis      SourceKind = "redis"
)

const (
	// DefaultFetchTimeout bounds a single fetch when no timeout is configured.
	DefaultFetchTimeout = 5 * time.Second

	defaultAMQPPort       = "5672"
	defaultManagementPort = "15672"
	defaultRedisPort      = "6379"
)

// ErrQueueNotFound is wrapped by MetricError when the broker reports the queue as absent.
var ErrQueueNotFound = errors.New("queue not found")

// ErrNoMessageCount is wrapped by MetricError when the broker answered without a message count.
var ErrNoMessageCount = errors.New("response has no message count")

// MetricError reports that a queue depth could not be read. The cycle that
// requested it must not make a scaling decision.
type MetricError struct {
	// Source is the name of the source that failed.
	Source string
	// Queue is the queue that was queried.
	Queue string
	// Retryable is always true: a later cycle may succeed.
	Retryable bool
	Err       error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("%s: queue %q unavailable: %v", e.Source, e.Queue, e.Err)
}

func (e *MetricError) Unwrap() error {
	return e.Err
}

func newMetricError(source, queue string, err error) *MetricError {
	return &MetricError{Source: source, Queue: queue, Retryable: true, Err: err}
}

// hostPort appends port to host when host carries none.
func hostPort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), port)
}
