package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaNotifier publishes engine events to a Kafka topic. Write failures are
// logged and dropped; notifications are best-effort by contract.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
		// Fire-and-forget: WriteMessages queues and returns without waiting
		// for the broker, so an outage never stalls the caller.
		Async: true,
	})
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			logger.Warn("failed to publish notification", zap.Error(err))
		}
	}

	return &KafkaNotifier{writer: w, logger: logger}
}

// EnsureTopic attempts to create the topic (best-effort).
func EnsureTopic(ctx context.Context, broker, topic string) {
	conn, err := kafka.DialContext(ctx, "tcp", broker)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
}

func (n *KafkaNotifier) Notify(ctx context.Context, kind Kind, message string) {
	event := Event{Kind: kind, Message: message, At: time.Now().UTC()}

	b, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal notification", zap.Error(err))
		return
	}

	msg := kafka.Message{Key: []byte(kind), Value: b, Time: event.At}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Warn("failed to publish notification", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
