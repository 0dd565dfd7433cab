// Package kafka wraps the franz-go producer used for notification and ops
// fan-out.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"simgate/internal/platform/config"
)

// Publisher produces records to Kafka. Construct once at startup; nil is a
// valid receiver for a disabled publisher so call sites need no guards.
type Publisher struct {
	client *kgo.Client
}

// NewPublisher connects to the configured brokers and makes sure the topics
// this service produces to exist. Returns nil if Kafka is not configured.
func NewPublisher(ctx context.Context, cfg config.Kafka) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopics(ctx, client, cfg.NotificationsTopic, cfg.OpsTopic); err != nil {
		client.Close()
		return nil, err
	}

	return &Publisher{client: client}, nil
}

func ensureTopics(ctx context.Context, client *kgo.Client, topics ...string) error {
	adm := kadm.NewClient(client)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Publish produces one record synchronously. A nil Publisher silently drops,
// matching the best-effort contract of every caller.
func (p *Publisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if p == nil {
		return nil
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	return p.client.ProduceSync(ctx, record).FirstErr()
}

// Close flushes and shuts down the producer.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Close()
}
