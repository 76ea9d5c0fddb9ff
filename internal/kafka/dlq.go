package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/consumer"
	"github.com/jittakal/prismsink/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ consumer.DLQPublisher = (*DLQPublisher)(nil)

// Dead letter headers, named after the Kafka Connect error reporter.
const (
	HeaderTopic            = "__connect.errors.topic"
	HeaderPartition        = "__connect.errors.partition"
	HeaderOffset           = "__connect.errors.offset"
	HeaderStage            = "__connect.errors.stage"
	HeaderExceptionClass   = "__connect.errors.exception.class.name"
	HeaderExceptionMessage = "__connect.errors.exception.message"
	HeaderProcessorID      = "__prismsink.processor.id"
)

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// DLQPublisher republishes messages that could not be stored to
// "<topic><suffix>". The original key, value and headers are kept; the
// failure is described in extra headers.
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *slog.Logger
	processorID string
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewDLQPublisher creates a new DLQ publisher. An empty processorID is
// replaced by a random one.
func NewDLQPublisher(
	securityConfig ConsumerConfig,
	dlqConfig DLQConfig,
	logger *slog.Logger,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, processorID), nil
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	if err := configureSecurity(saramaConfig, securityConfig); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(securityConfig.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		"bootstrap_servers", securityConfig.BootstrapServers,
		"topic_suffix", dlqConfig.TopicSuffix,
	)

	return newDLQPublisher(producer, dlqConfig, logger, processorID), nil
}

func newDLQPublisher(producer sarama.SyncProducer, cfg DLQConfig, logger *slog.Logger, processorID string) *DLQPublisher {
	if processorID == "" {
		processorID = uuid.NewString()
	}
	return &DLQPublisher{
		producer:    producer,
		config:      cfg,
		logger:      logger,
		processorID: processorID,
		now:         time.Now,
	}
}

// ProcessorID identifies this sink instance in dead letter headers.
func (p *DLQPublisher) ProcessorID() string {
	return p.processorID
}

// Topic returns the dead letter topic for topic.
func (p *DLQPublisher) Topic(topic string) string {
	return topic + p.config.TopicSuffix
}

// Publish sends msg to the DLQ, recording the failed stage and its cause.
// With the DLQ disabled it only logs.
func (p *DLQPublisher) Publish(ctx context.Context, msg *event.ConsumedMessage, stage string, cause error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	md := msg.Metadata
	if !p.config.Enabled {
		p.logger.Warn("DLQ disabled, dropping failed message",
			"topic", md.Topic,
			"partition", md.Partition,
			"offset", md.Offset,
			"stage", stage,
			"error", cause,
		)
		return nil
	}

	pm := p.message(msg, stage, cause)
	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		p.logger.Error("failed to publish to DLQ",
			"error", err,
			"dlq_topic", pm.Topic,
			"offset", md.Offset,
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.logger.Info("published message to DLQ",
		"dlq_topic", pm.Topic,
		"dlq_partition", partition,
		"dlq_offset", offset,
		"topic", md.Topic,
		"partition", md.Partition,
		"offset", md.Offset,
		"stage", stage,
		"error", cause,
	)
	return nil
}

func (p *DLQPublisher) message(msg *event.ConsumedMessage, stage string, cause error) *sarama.ProducerMessage {
	md := msg.Metadata

	headers := make([]sarama.RecordHeader, 0, len(md.Headers)+7)
	for k, v := range md.Headers {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	headers = append(headers,
		header(HeaderTopic, md.Topic),
		header(HeaderPartition, strconv.FormatInt(int64(md.Partition), 10)),
		header(HeaderOffset, strconv.FormatInt(md.Offset, 10)),
		header(HeaderStage, stage),
		header(HeaderProcessorID, p.processorID),
	)
	if cause != nil {
		headers = append(headers,
			header(HeaderExceptionClass, reflect.TypeOf(cause).String()),
			header(HeaderExceptionMessage, cause.Error()),
		)
	}

	pm := &sarama.ProducerMessage{
		Topic:     p.Topic(md.Topic),
		Headers:   headers,
		Timestamp: p.now(),
	}
	if md.Key != nil {
		pm.Key = sarama.ByteEncoder(md.Key)
	}
	if msg.Value != nil {
		pm.Value = sarama.ByteEncoder(msg.Value)
	}
	return pm
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("error closing producer", "error", err)
			return err
		}
	}

	p.logger.Info("DLQ publisher closed")
	return nil
}
