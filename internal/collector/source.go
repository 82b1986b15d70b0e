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
	"fmt"
	"time"
)

// SourceConfig holds the settings shared by all queue depth sources.
type SourceConfig struct {
	// Timeout bounds a single fetch. Defaults to DefaultFetchTimeout.
	Timeout time.Duration
	// VHost is the broker virtual host used by the amqp and management sources.
	VHost string
	// RedisDB selects the redis logical database.
	RedisDB int
}

func (c SourceConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultFetchTimeout
	}
	return c.Timeout
}

func (c SourceConfig) vhost() string {
	if c.VHost == "" {
		return "/"
	}
	return c.VHost
}

// NewQueueDepthSource is a factory that creates a QueueDepthSource of the given kind.
func NewQueueDepthSource(kind SourceKind, cfg SourceConfig) (QueueDepthSource, error) {
	switch kind {
	case SourceAMQP:
		return NewAMQPSource(cfg), nil
	case SourceManagement:
		return NewManagementSource(cfg, nil), nil
	case SourceRedis:
		return NewRedisSource(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported metric source: %q", kind)
	}
}
