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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
)

// maxManagementBody caps how much of a management API response is read.
const maxManagementBody = 1 << 20

// ManagementSource reads queue depth from the RabbitMQ management HTTP API.
type ManagementSource struct {
	cfg    SourceConfig
	client *http.Client
}

var _ QueueDepthSource = (*ManagementSource)(nil)

// queueInfo is the subset of GET /api/queues/{vhost}/{name} that is used.
type queueInfo struct {
	Name     string `json:"name"`
	Messages *int64 `json:"messages"`
}

// NewManagementSource creates a ManagementSource. A nil client gets a dedicated
// http.Client whose timeout matches cfg.Timeout.
func NewManagementSource(cfg SourceConfig, client *http.Client) *ManagementSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	return &ManagementSource{cfg: cfg, client: client}
}

func (s *ManagementSource) Name() string {
	return string(SourceManagement)
}

// Fetch issues GET {host}/api/queues/{vhost}/{queue} with basic auth and returns the "messages" field.
func (s *ManagementSource) Fetch(ctx context.Context, spec interfaces.AutoscaleSpec) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	endpoint, err := s.queueURL(spec.QueueHost, spec.QueueName)
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, err)
	}
	req.SetBasicAuth(spec.QueueUser, spec.QueueCredential)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxManagementBody))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, newMetricError(s.Name(), spec.QueueName, ErrQueueNotFound)
	case resp.StatusCode != http.StatusOK:
		return 0, newMetricError(s.Name(), spec.QueueName, fmt.Errorf("GET %s: unexpected status %s", endpoint, resp.Status))
	}

	var info queueInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManagementBody)).Decode(&info); err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, fmt.Errorf("decode response: %w", err))
	}
	if info.Messages == nil {
		// the broker omits message stats until its first stats emission for a new queue
		return 0, newMetricError(s.Name(), spec.QueueName, ErrNoMessageCount)
	}
	if *info.Messages < 0 {
		return 0, newMetricError(s.Name(), spec.QueueName, fmt.Errorf("negative message count %d", *info.Messages))
	}
	ctrl.LoggerFrom(ctx).V(logging.TRACE).Info("Read queue depth from management API",
		"queue", spec.QueueName, "messages", *info.Messages)
	return *info.Messages, nil
}

// queueURL builds the queue endpoint. host may omit the scheme (http) and the port (15672).
func (s *ManagementSource) queueURL(host, queue string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("management host is empty")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	base, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("invalid management host %q: %w", host, err)
	}
	if base.Port() == "" {
		base.Host = hostPort(base.Host, defaultManagementPort)
	}
	base.RawQuery, base.Fragment = "", ""
	return strings.TrimSuffix(base.String(), "/") +
		"/api/queues/" + url.PathEscape(s.cfg.vhost()) + "/" + url.PathEscape(queue), nil
}
