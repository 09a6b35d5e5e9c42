package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// SetupConsumer connects to the configured brokers and consumes topic in
// the background until ctx is done.
func SetupConsumer(ctx context.Context, topic string, handler func([]byte)) error {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(Brokers(), config)
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	return Consume(ctx, consumer, topic, handler)
}

// Consume reads partition 0 of topic from the newest offset and passes
// every message to handler. The consumer is closed when ctx is done.
func Consume(ctx context.Context, consumer sarama.Consumer, topic string, handler func([]byte)) error {
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		consumer.Close()
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	logrus.WithField("topic", topic).Info("Started consuming from topic")
	go func() {
		defer consumer.Close()
		defer partitionConsumer.Close()
		for {
			select {
			case <-ctx.Done():
				logrus.WithField("topic", topic).Info("Stopped consuming from topic")
				return
			case msg, ok := <-partitionConsumer.Messages():
				if !ok {
					return
				}
				logrus.WithFields(logrus.Fields{"topic": topic, "offset": msg.Offset}).Debug("Received message")
				handler(msg.Value)
			case err, ok := <-partitionConsumer.Errors():
				if !ok {
					return
				}
				logrus.WithError(err).WithField("topic", topic).Error("Error consuming")
			}
		}
	}()
	return nil
}
