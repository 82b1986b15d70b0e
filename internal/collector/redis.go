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

	"github.com/go-redis/redis/v8"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// RedisSource reads queue depth as the length of a redis list.
// A missing key is an empty queue.
type RedisSource struct {
	cfg SourceConfig
}

var _ QueueDepthSource = (*RedisSource)(nil)

// NewRedisSource creates a RedisSource.
func NewRedisSource(cfg SourceConfig) *RedisSource {
	return &RedisSource{cfg: cfg}
}

func (s *RedisSource) Name() string {
	return string(SourceRedis)
}

// Fetch runs LLEN spec.QueueName against spec.QueueHost.
func (s *RedisSource) Fetch(ctx context.Context, spec interfaces.AutoscaleSpec) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:         hostPort(spec.QueueHost, defaultRedisPort),
		Username:     spec.QueueUser,
		Password:     spec.QueueCredential,
		DB:           s.cfg.RedisDB,
		DialTimeout:  s.cfg.timeout(),
		ReadTimeout:  s.cfg.timeout(),
		WriteTimeout: s.cfg.timeout(),
		MaxRetries:   -1,
		PoolSize:     1,
	})
	defer rdb.Close()

	n, err := rdb.LLen(ctx, spec.QueueName).Result()
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, err)
	}
	return n, nil
}
