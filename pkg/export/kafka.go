package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/glancesec/glance/pkg/flow"
)

const kafkaWriteTimeout = 5 * time.Second

// KafkaSink publishes records to one topic per stream, for fleet deployments
// that aggregate interception telemetry centrally. The stream name is keyed
// into the message so consumers can partition on it.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaSink builds a writer against the given brokers. Topic is a prefix;
// the record stream is appended per message.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.LeastBytes{},
		},
		topic: topic,
	}
}

func (s *KafkaSink) Write(rec flow.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), kafkaWriteTimeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic + "-" + string(rec.Stream),
		Key:   []byte(rec.Host),
		Value: payload,
		Time:  rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
