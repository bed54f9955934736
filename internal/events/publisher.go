package events

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v2/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewKafkaPublisher builds the production publisher for the jobs topic.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) (message.Publisher, error) {
	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	return pub, nil
}

// NewKafkaSubscriber builds the worker-side subscriber. Workers in one
// consumer group share the rescore fan-out.
func NewKafkaSubscriber(brokers []string, consumerGroup string, logger *slog.Logger) (message.Subscriber, error) {
	sub, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			ConsumerGroup: consumerGroup,
			Unmarshaler:   kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka subscriber: %w", err)
	}
	return sub, nil
}

// NewGoChannelPubSub is the in-process broker used when no kafka cluster is
// configured. Publisher and subscriber share the same instance.
func NewGoChannelPubSub(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
			Persistent:          false,
		},
		watermill.NewSlogLogger(logger),
	)
}
