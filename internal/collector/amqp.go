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
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/logging"
)

// AMQPSource reads queue depth with an AMQP 0-9-1 passive queue declare.
type AMQPSource struct {
	cfg SourceConfig
}

var _ QueueDepthSource = (*AMQPSource)(nil)

// NewAMQPSource creates an AMQPSource.
func NewAMQPSource(cfg SourceConfig) *AMQPSource {
	return &AMQPSource{cfg: cfg}
}

func (s *AMQPSource) Name() string {
	return string(SourceAMQP)
}

// Fetch dials the broker, passively declares spec.QueueName and returns its ready message count.
// The connection is closed before Fetch returns, including when ctx expires mid-call.
func (s *AMQPSource) Fetch(ctx context.Context, spec interfaces.AutoscaleSpec) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	dialTimeout := s.cfg.timeout()
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	uri := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(spec.QueueUser, spec.QueueCredential),
		Host:   hostPort(spec.QueueHost, defaultAMQPPort),
	}
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("queue-autoscaler")
	conn, err := amqp.DialConfig(uri.String(), amqp.Config{
		Vhost:      s.cfg.vhost(),
		Dial:       amqp.DefaultDial(dialTimeout),
		Heartbeat:  10 * time.Second,
		Properties: props,
	})
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, fmt.Errorf("dial %s: %w", uri.Host, err))
	}
	defer conn.Close()

	// the declare below has no deadline of its own once the handshake is done
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ch, err := conn.Channel()
	if err != nil {
		return 0, newMetricError(s.Name(), spec.QueueName, s.cause(ctx, fmt.Errorf("open channel: %w", err)))
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(spec.QueueName, false, false, false, false, nil)
	if err != nil {
		var aerr *amqp.Error
		if errors.As(err, &aerr) && aerr.Code == amqp.NotFound {
			err = fmt.Errorf("%w: %s", ErrQueueNotFound, aerr.Reason)
		}
		return 0, newMetricError(s.Name(), spec.QueueName, s.cause(ctx, err))
	}

	ctrl.LoggerFrom(ctx).V(logging.TRACE).Info("Passive declare succeeded",
		"queue", q.Name, "messages", q.Messages, "consumers", q.Consumers)
	return int64(q.Messages), nil
}

// cause prefers the context error when the connection was torn down by expiry.
func (s *AMQPSource) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}
