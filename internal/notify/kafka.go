package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Event types carried in the notification envelope.
const (
	eventCodeIssued       = "custody.code_issued"
	eventPackageDelivered = "custody.package_delivered"
)

type envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// KafkaNotifier publishes notification payloads to a Kafka topic, keyed
// by package ID so per-package ordering holds.
type KafkaNotifier struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

type KafkaOption func(*KafkaNotifier)

func WithLogger(logger *slog.Logger) KafkaOption {
	return func(n *KafkaNotifier) { n.logger = logger }
}

func WithTimeout(timeout time.Duration) KafkaOption {
	return func(n *KafkaNotifier) { n.timeout = timeout }
}

// NewKafka builds a notifier over the given seed brokers.
func NewKafka(seeds []string, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	n := &KafkaNotifier{
		client:  client,
		topic:   topic,
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *KafkaNotifier) CodeIssued(ctx context.Context, payload CodeIssued) error {
	return n.publish(ctx, eventCodeIssued, payload.PackageID, payload)
}

func (n *KafkaNotifier) PackageDelivered(ctx context.Context, payload PackageDelivered) error {
	return n.publish(ctx, eventPackageDelivered, payload.PackageID, payload)
}

func (n *KafkaNotifier) publish(ctx context.Context, event, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	value, err := json.Marshal(envelope{
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	record := &kgo.Record{Topic: n.topic, Key: []byte(key), Value: value}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s: %w", event, err)
	}
	n.logger.DebugContext(ctx, "notification published", "event", event, "key", key)
	return nil
}

// Close flushes pending records and releases the client.
func (n *KafkaNotifier) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	_ = n.client.Flush(ctx)
	n.client.Close()
}
