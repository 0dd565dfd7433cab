// Package notify fans out user and operator notifications. Delivery is
// best-effort everywhere: callers log failures and move on.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"simgate/internal/platform/config"
	"simgate/internal/platform/kafka"
	"simgate/internal/platform/metrics"
	id "simgate/pkg/domain"
)

// Audience selects the delivery channel.
type Audience string

const (
	AudienceUser     Audience = "user"
	AudienceOperator Audience = "operator"
)

// Notification is one outbound alert.
type Notification struct {
	Audience Audience          `json:"audience"`
	Kind     string            `json:"kind"`
	UserID   id.UserID         `json:"user_id,omitempty"`
	ICCID    id.ICCID          `json:"iccid,omitempty"`
	Message  string            `json:"message"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// KafkaNotifier publishes notifications to the configured topics: user
// alerts to the notifications topic, operator alerts to the ops topic.
type KafkaNotifier struct {
	publisher *kafka.Publisher
	cfg       config.Kafka
	metrics   *metrics.Metrics
}

func NewKafka(publisher *kafka.Publisher, cfg config.Kafka, m *metrics.Metrics) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, cfg: cfg, metrics: m}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	topic := k.cfg.NotificationsTopic
	key := n.UserID.String()
	if n.Audience == AudienceOperator {
		topic = k.cfg.OpsTopic
		key = n.Kind
	}

	err = k.publisher.Publish(ctx, topic, key, payload)
	if k.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		k.metrics.ObserveNotification(string(n.Audience), result)
	}
	return err
}

// MemoryNotifier records notifications for tests.
type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemory() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns delivered notifications in order.
func (m *MemoryNotifier) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}
