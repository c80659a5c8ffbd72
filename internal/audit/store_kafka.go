package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaStore publishes audit events to a Kafka topic for deployments that
// ship audit off-box. Produce is asynchronous; a failed delivery is logged,
// not retried, matching the fire-and-forget contract of the sink.
type KafkaStore struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// OpenKafka connects to the brokers (comma-separated) and targets topic.
func OpenKafka(brokers, topic string, logger *slog.Logger) (*KafkaStore, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaStore{client: client, topic: topic, logger: logger}, nil
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	record := &kgo.Record{Topic: s.topic, Key: []byte(event.Type), Value: value}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			s.logger.Error("audit kafka produce failed", "type", event.Type, "error", err)
		}
	})
	return nil
}

func (s *KafkaStore) Close() error {
	s.client.Close()
	return nil
}
