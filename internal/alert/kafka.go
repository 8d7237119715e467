package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	segkafka "github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	AlertsTopic string   `yaml:"alerts_topic"`
	ClientID    string   `yaml:"client_id"`
}

func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if strings.TrimSpace(c.AlertsTopic) == "" {
		return fmt.Errorf("kafka.alerts_topic is required")
	}
	return nil
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// KafkaNotifier publishes alert events to a Kafka topic, keyed by instance
// id so all alerts for one instance land on the same partition.
type KafkaNotifier struct {
	writer writer
	topic  string
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &segkafka.Writer{
		Addr:     segkafka.TCP(cfg.Brokers...),
		Balancer: &segkafka.LeastBytes{},
	}
	return &KafkaNotifier{writer: w, topic: cfg.AlertsTopic}, nil
}

func newKafkaNotifierWithWriter(w writer, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic}
}

func (n *KafkaNotifier) NotifyCompensationFailed(ctx context.Context, event CompensationFailed) error {
	if n == nil || n.writer == nil {
		return fmt.Errorf("kafka notifier not configured")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return n.writer.WriteMessages(ctx, segkafka.Message{
		Topic: n.topic,
		Key:   []byte(event.InstanceID),
		Value: value,
	})
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
