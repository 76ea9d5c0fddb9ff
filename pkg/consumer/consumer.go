// Package consumer defines interfaces for Kafka message consumption.
package consumer

import (
	"context"

	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// Consumer reads raw messages from Kafka topics.
type Consumer interface {
	// Subscribe subscribes to one or more topics.
	Subscribe(ctx context.Context, topics []string) error

	// Consume starts consuming messages from subscribed topics.
	// Returns channels for messages and errors.
	Consume(ctx context.Context) (<-chan *event.ConsumedMessage, <-chan error, error)

	// Commit commits the offset for a partition.
	Commit(ctx context.Context, partition record.PartitionID, offset int64) error

	// Close closes the consumer and releases resources.
	Close() error
}

// DLQPublisher publishes messages that could not be stored to a dead letter queue.
type DLQPublisher interface {
	// Publish sends the original message to the DLQ along with the failure.
	Publish(ctx context.Context, msg *event.ConsumedMessage, stage string, cause error) error

	// Close closes the publisher and releases resources.
	Close() error
}
