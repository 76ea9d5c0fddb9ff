// Package kafka implements the Kafka consumer and the dead letter queue
// producer.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/consumer"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// Ensure implementation satisfies interfaces at compile time.
var _ consumer.Consumer = (*SaramaConsumer)(nil)

// ConsumerConfig contains Kafka consumer configuration.
type ConsumerConfig struct {
	BootstrapServers    []string
	GroupID             string
	SecurityProtocol    string
	SASLMechanism       string
	SASLUsername        string
	SASLPassword        string
	AWSRegion           string
	TLSSkipVerify       bool
	AutoOffsetReset     string
	EnableAutoCommit    bool
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	ChannelBufferSize   int
}

// Validate checks the required fields.
func (c ConsumerConfig) Validate() error {
	if len(c.BootstrapServers) == 0 {
		return fmt.Errorf("kafka: at least one bootstrap server is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka: group id is required")
	}
	return nil
}

// MetricsCollector defines metrics operations for Kafka consumer.
type MetricsCollector interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
	ObserveRebalanceDuration(groupID string, duration float64)
	ObserveCommitLatency(topic string, partition int32, duration float64)
	SetPartitionsAssigned(topic string, count float64)
}

// SaramaConsumer implements consumer.Consumer on a Sarama consumer group.
//
// Offsets are only marked through Commit, so a message is never committed
// before the file holding it is stored.
type SaramaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	config        ConsumerConfig
	logger        *slog.Logger
	metrics       MetricsCollector
	topics        []string
	ready         chan struct{}

	mu       sync.RWMutex
	closed   bool
	sessions map[record.PartitionID]sarama.ConsumerGroupSession
}

// NewSaramaConsumer creates a new Kafka consumer.
func NewSaramaConsumer(
	config ConsumerConfig,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*SaramaConsumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	saramaConfig, err := newSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	consumerGroup, err := sarama.NewConsumerGroup(
		config.BootstrapServers,
		config.GroupID,
		saramaConfig,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("kafka consumer created",
		"group_id", config.GroupID,
		"bootstrap_servers", config.BootstrapServers,
		"session_timeout_ms", config.SessionTimeoutMS,
		"max_poll_interval_ms", config.MaxPollIntervalMS,
	)

	return newConsumer(consumerGroup, config, logger, metrics), nil
}

func newConsumer(group sarama.ConsumerGroup, config ConsumerConfig, logger *slog.Logger, metrics MetricsCollector) *SaramaConsumer {
	return &SaramaConsumer{
		consumerGroup: group,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		ready:         make(chan struct{}),
		sessions:      make(map[record.PartitionID]sarama.ConsumerGroupSession),
	}
}

func newSaramaConfig(config ConsumerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_8_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = config.EnableAutoCommit
	saramaConfig.Consumer.Return.Errors = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}
	if config.ChannelBufferSize > 0 {
		saramaConfig.ChannelBufferSize = config.ChannelBufferSize
	}

	if err := configureSecurity(saramaConfig, config); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}
	return saramaConfig, nil
}

// Subscribe subscribes to the specified topics.
func (c *SaramaConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}
	if len(topics) == 0 {
		return fmt.Errorf("no topics to subscribe to")
	}

	c.topics = topics
	c.logger.Info("subscribed to topics", "topics", topics)
	return nil
}

// Consume starts the consumer group session loop and returns channels for
// messages and errors. It returns once the first session is set up.
func (c *SaramaConsumer) Consume(ctx context.Context) (<-chan *event.ConsumedMessage, <-chan error, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, errors.ErrConsumerClosed
	}
	topics := c.topics
	c.mu.RUnlock()

	messages := make(chan *event.ConsumedMessage, 100)
	errs := make(chan error, 10)

	handler := &consumerGroupHandler{
		consumer: c,
		messages: messages,
		ready:    c.ready,
	}

	go func() {
		for err := range c.consumerGroup.Errors() {
			select {
			case errs <- err:
			default:
				c.logger.Warn("dropping consumer error", "error", err)
			}
		}
	}()

	go func() {
		defer close(messages)

		for {
			// Consume returns on every rebalance; loop to rejoin.
			if err := c.consumerGroup.Consume(ctx, topics, handler); err != nil {
				c.logger.Error("consumer group error", "error", err)
				select {
				case errs <- err:
				default:
				}
				return
			}
			if ctx.Err() != nil {
				c.logger.Info("consumer context cancelled")
				return
			}
		}
	}()

	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	c.logger.Info("kafka consumer started and ready")
	return messages, errs, nil
}

// Commit marks offset, the next offset to read, as consumed for partition
// and commits it unless auto commit is enabled.
func (c *SaramaConsumer) Commit(ctx context.Context, partition record.PartitionID, offset int64) error {
	startTime := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errors.ErrConsumerClosed
	}

	session, ok := c.sessions[partition]
	if !ok {
		if c.metrics != nil {
			c.metrics.IncOffsetCommits(partition.Topic, partition.Partition, "revoked")
		}
		return fmt.Errorf("partition %s is not assigned to this consumer", partition)
	}

	session.MarkOffset(partition.Topic, partition.Partition, offset, "")
	if !c.config.EnableAutoCommit {
		session.Commit()
	}

	c.logger.Debug("committed offset",
		"topic", partition.Topic,
		"partition", partition.Partition,
		"offset", offset,
	)

	if c.metrics != nil {
		c.metrics.ObserveCommitLatency(partition.Topic, partition.Partition, time.Since(startTime).Seconds())
		c.metrics.IncOffsetCommits(partition.Topic, partition.Partition, "success")
	}
	return nil
}

// Close closes the consumer and releases resources.
func (c *SaramaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Info("closing kafka consumer")

	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Error("error closing consumer group", "error", err)
		return err
	}

	c.logger.Info("kafka consumer closed")
	return nil
}

func (c *SaramaConsumer) claim(pid record.PartitionID, session sarama.ConsumerGroupSession) {
	c.mu.Lock()
	c.sessions[pid] = session
	c.mu.Unlock()
}

func (c *SaramaConsumer) release(pid record.PartitionID, session sarama.ConsumerGroupSession) {
	c.mu.Lock()
	if c.sessions[pid] == session {
		delete(c.sessions, pid)
	}
	c.mu.Unlock()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler.
type consumerGroupHandler struct {
	consumer       *SaramaConsumer
	messages       chan<- *event.ConsumedMessage
	ready          chan struct{}
	readyOnce      sync.Once
	rebalanceStart time.Time
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (h *consumerGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.rebalanceStart = time.Now()

	h.consumer.logger.Info("consumer group session setup",
		"member_id", session.MemberID(),
		"generation_id", session.GenerationID(),
		"claims", session.Claims(),
	)

	if h.consumer.metrics != nil {
		h.consumer.metrics.IncRebalances(h.consumer.config.GroupID)
		for topic, partitions := range session.Claims() {
			h.consumer.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
		}
	}

	h.readyOnce.Do(func() {
		close(h.ready)
	})
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (h *consumerGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	if h.consumer.metrics != nil && !h.rebalanceStart.IsZero() {
		h.consumer.metrics.ObserveRebalanceDuration(
			h.consumer.config.GroupID,
			time.Since(h.rebalanceStart).Seconds(),
		)
	}

	h.consumer.logger.Info("consumer group session cleanup",
		"member_id", session.MemberID(),
	)
	return nil
}

// ConsumeClaim forwards the messages of one partition.
func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	pid := record.PartitionID{Topic: claim.Topic(), Partition: claim.Partition()}
	h.consumer.claim(pid, session)
	defer h.consumer.release(pid, session)

	h.consumer.logger.Info("started consuming partition",
		"topic", pid.Topic,
		"partition", pid.Partition,
		"initial_offset", claim.InitialOffset(),
	)

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			h.consumer.logger.Debug("received kafka message",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
				"value_size", len(message.Value),
			)

			msg := messageOf(message, func() error {
				session.MarkMessage(message, "")
				return nil
			})

			select {
			case h.messages <- msg:
				if h.consumer.metrics != nil {
					h.consumer.metrics.IncMessagesConsumed(message.Topic, message.Partition)
				}
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			h.consumer.logger.Info("session context done, stopping partition consumption",
				"topic", pid.Topic,
				"partition", pid.Partition,
			)
			return nil
		}
	}
}

// messageOf copies a Sarama message into a ConsumedMessage.
func messageOf(message *sarama.ConsumerMessage, commit func() error) *event.ConsumedMessage {
	var headers map[string]string
	if len(message.Headers) > 0 {
		headers = make(map[string]string, len(message.Headers))
		for _, header := range message.Headers {
			if header != nil {
				headers[string(header.Key)] = string(header.Value)
			}
		}
	}

	return &event.ConsumedMessage{
		Metadata: event.KafkaMetadata{
			Topic:     message.Topic,
			Partition: message.Partition,
			Offset:    message.Offset,
			Key:       message.Key,
			Headers:   headers,
			Timestamp: message.Timestamp,
		},
		Value:      message.Value,
		CommitFunc: commit,
	}
}

// offsetInitial converts the AutoOffsetReset config to Sarama's offset constant.
func offsetInitial(autoOffsetReset string) int64 {
	if autoOffsetReset == "earliest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}
