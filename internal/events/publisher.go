package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/models"
)

// Publisher sends step events to Kafka keyed by run id.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewPublisher returns a Publisher for topic. A nil producer yields a
// publisher that only logs, so runs still work without a broker.
func NewPublisher(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Publish sends ev, stamping At when unset.
func (p *Publisher) Publish(ev models.StepEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	fields := logrus.Fields{"run_id": ev.RunID, "step": ev.Step, "status": ev.Status, "final": ev.Final}
	if p == nil || p.producer == nil {
		logrus.WithFields(fields).Debug("No event producer, event not published")
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.RunID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		logrus.WithError(err).WithFields(fields).Error("Failed to send event to Kafka")
		return fmt.Errorf("publish event: %w", err)
	}
	logrus.WithFields(fields).Debug("Event published")
	return nil
}

// Close releases the producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
