package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alexitico1989/gruapp-sub003/internal/models"
)

// LocationUpdate is the wire shape of one operator position sample.
type LocationUpdate struct {
	OperatorID string       `json:"operator_id"`
	Loc        models.Coord `json:"loc"`
	Available  bool         `json:"available"`
	At         time.Time    `json:"at"`
}

type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishLocation ships one position sample, keyed by operator so the
// stream stays ordered per operator.
func (k *KafkaProducer) PublishLocation(u LocationUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(u)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.OperatorID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
