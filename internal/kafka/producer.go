// Package kafka provides functionality for interacting with the Apache Kafka message broker.
// It carries pipeline step events from the uploader to the events service.
package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Brokers returns the broker addresses from KAFKA_BROKERS, a
// comma-separated list (default: localhost:9092).
func Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(viper.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	return brokers
}

// SetupProducer initializes a synchronous Kafka producer.
//
// The producer is configured with:
//   - Synchronous operation (waits for acknowledgment)
//   - 5MB maximum message size
//   - Messages keyed by run id land on one partition, keeping a run's
//     events in order
//
// Returns:
//   - sarama.SyncProducer: A configured Kafka producer
//   - error: If no broker could be reached
func SetupProducer() (sarama.SyncProducer, error) {
	brokers := Brokers()

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.MaxMessageBytes = 5 * 1024 * 1024
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logrus.WithField("brokers", brokers).Info("Kafka producer initialized")
	return producer, nil
}
