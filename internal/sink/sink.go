// Package sink runs the consume, partition, buffer and write loop.
//
// Each Kafka message is converted to a Connect record, validated, assigned
// an encoded partition and buffered per (kafka partition, encoded path).
// Buffers are written as one file when the rotation policy fires. Offsets are
// committed only up to the first record that is not yet stored, so a crash
// never loses data; it may write a file twice under the same object name.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"

	apperrors "github.com/jittakal/prismsink/internal/errors"
	intpartitioner "github.com/jittakal/prismsink/internal/partitioner"
	"github.com/jittakal/prismsink/pkg/buffer"
	"github.com/jittakal/prismsink/pkg/consumer"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/partitioner"
	"github.com/jittakal/prismsink/pkg/record"
	"github.com/jittakal/prismsink/pkg/storage"
)

// Dead letter stages.
const (
	StageConvert   = "convert"
	StageValidate  = "validate"
	StagePartition = "partition"
	StageBuffer    = "buffer"
)

const defaultShutdownTimeout = 30 * time.Second

// ErrWriteFailed wraps errors of buffers that could not be stored.
var ErrWriteFailed = errors.New("sink: storage write failed")

// Metrics records pipeline activity.
type Metrics interface {
	IncRecordsProcessed(topic string, partition int32, status string)
	ObserveProcessingDuration(topic, stage string, duration float64)
	SetBufferUsage(topic string, partition int32, bytes int64, records int)
	IncPartitionKeys(scheme string)
	IncPartitionErrors(kind string)
	IncDLQMessages(topic, stage string)
	IncWriteRetries(topic string)
}

// ReadinessReporter receives component state changes.
type ReadinessReporter interface {
	SetReady(component string, ready bool, detail string)
}

// Components are the collaborators of a Sink. DLQ and Health are optional.
type Components struct {
	Consumer  consumer.Consumer
	DLQ       consumer.DLQPublisher
	Converter event.Converter
	Validator event.Validator
	Encoder   partitioner.PathEncoder
	Extractor partitioner.TimestampExtractor
	Router    storage.Router
	Policy    storage.RotationPolicy
	Writer    storage.Writer
	Buffers   buffer.Manager
	Health    ReadinessReporter
}

func (c Components) validate() error {
	switch {
	case c.Consumer == nil:
		return fmt.Errorf("sink: consumer is required")
	case c.Converter == nil:
		return fmt.Errorf("sink: converter is required")
	case c.Validator == nil:
		return fmt.Errorf("sink: validator is required")
	case c.Encoder == nil:
		return fmt.Errorf("sink: partition encoder is required")
	case c.Extractor == nil:
		return fmt.Errorf("sink: timestamp extractor is required")
	case c.Router == nil:
		return fmt.Errorf("sink: router is required")
	case c.Policy == nil:
		return fmt.Errorf("sink: rotation policy is required")
	case c.Writer == nil:
		return fmt.Errorf("sink: storage writer is required")
	case c.Buffers == nil:
		return fmt.Errorf("sink: buffer manager is required")
	}
	return nil
}

// RetryConfig controls retries of failed storage writes.
type RetryConfig struct {
	Enabled        bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (c RetryConfig) attempts() int {
	if !c.Enabled || c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// Config contains pipeline settings.
type Config struct {
	Format event.FileFormat
	// PartitionerClass labels partition metrics for encoders that do not
	// report a scheme.
	PartitionerClass string
	// FlushInterval is how often idle buffers are checked for rotation.
	FlushInterval   time.Duration
	ShutdownTimeout time.Duration
	Retry           RetryConfig
}

// schemeEncoder is implemented by encoders that classify records.
type schemeEncoder interface {
	EncodeWithScheme(rec *record.SinkRecord) (string, intpartitioner.Scheme, error)
}

// Sink moves records from a consumer to a storage writer. It is driven by a
// single goroutine and is not safe for concurrent use.
type Sink struct {
	c       Components
	config  Config
	logger  *slog.Logger
	metrics Metrics
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	// next is the offset following the last handled message.
	next      map[record.PartitionID]int64
	committed map[record.PartitionID]int64
}

// New creates a sink.
func New(c Components, config Config, logger *slog.Logger, metrics Metrics) (*Sink, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		return nil, fmt.Errorf("sink: metrics are required")
	}
	if config.Format == "" {
		config.Format = event.FormatParquet
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Sink{
		c:         c,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		after:     time.After,
		next:      make(map[record.PartitionID]int64),
		committed: make(map[record.PartitionID]int64),
	}, nil
}

// Run consumes until ctx is cancelled or the message channel closes, then
// flushes every buffer. It returns an error only when a file could not be
// stored or a failed record could not be dead-lettered.
func (s *Sink) Run(ctx context.Context) error {
	messages, errs, err := s.c.Consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.setReady("consumer", true, "consuming")
	defer s.setReady("consumer", false, "stopped")

	var tick <-chan time.Time
	if s.config.FlushInterval > 0 {
		ticker := time.NewTicker(s.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, stopping sink")
			return s.shutdown(ctx)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Error("consumer error", "error", err)

		case msg, ok := <-messages:
			if !ok {
				s.logger.Info("message channel closed")
				return s.shutdown(ctx)
			}
			if err := s.Handle(ctx, msg); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.Is(err, ErrWriteFailed) {
					return s.shutdown(ctx)
				}
				return err
			}

		case <-tick:
			if err := s.FlushReady(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Sink) shutdown(ctx context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.Flush(flushCtx); err != nil {
		return fmt.Errorf("failed to flush buffers on shutdown: %w", err)
	}
	return nil
}

// Handle processes one message. Records that cannot be converted, validated
// or partitioned are dead-lettered and committed.
func (s *Sink) Handle(ctx context.Context, msg *event.ConsumedMessage) error {
	start := s.now()
	meta := msg.Metadata
	pid := meta.PartitionID()

	rec, stage, err := s.prepare(msg)
	if err != nil {
		return s.deadLetter(ctx, msg, stage, err)
	}

	key := buffer.Key{Partition: pid, Path: rec.Path}
	buf := s.c.Buffers.GetOrCreate(key)
	if err := buf.Add(*rec); err != nil {
		if !errors.Is(err, apperrors.ErrBufferFull) {
			return fmt.Errorf("failed to buffer %s offset %d: %w", pid, meta.Offset, err)
		}
		if err := s.flush(ctx, key); err != nil {
			return err
		}
		buf = s.c.Buffers.GetOrCreate(key)
		if err := buf.Add(*rec); err != nil {
			// A single record larger than the buffer.
			return s.deadLetter(ctx, msg, StageBuffer, err)
		}
	}

	s.advance(pid, meta.Offset)
	s.metrics.IncRecordsProcessed(meta.Topic, meta.Partition, "buffered")
	s.metrics.ObserveProcessingDuration(meta.Topic, "record", s.now().Sub(start).Seconds())

	if s.c.Policy.ShouldRotate(buf.Stats()) {
		return s.flush(ctx, key)
	}
	return nil
}

// prepare converts msg into a partitioned record. On failure it returns the
// stage that failed.
func (s *Sink) prepare(msg *event.ConsumedMessage) (*event.Record, string, error) {
	sinkRecord, err := s.c.Converter.ToSinkRecord(msg)
	if err != nil {
		return nil, StageConvert, err
	}

	if err := s.c.Validator.Validate(sinkRecord); err != nil {
		return nil, StageValidate, err
	}

	path, err := s.encode(sinkRecord)
	if err != nil {
		return nil, StagePartition, err
	}

	return &event.Record{
		Sink:        sinkRecord,
		Raw:         msg.Value,
		Path:        path,
		EventTime:   time.UnixMilli(s.c.Extractor.Extract(sinkRecord)).UTC(),
		ProcessedAt: s.now(),
	}, "", nil
}

func (s *Sink) encode(rec *record.SinkRecord) (string, error) {
	var (
		path  string
		label = s.config.PartitionerClass
		err   error
	)
	if se, ok := s.c.Encoder.(schemeEncoder); ok {
		var scheme intpartitioner.Scheme
		path, scheme, err = se.EncodeWithScheme(rec)
		label = scheme.String()
	} else {
		path, err = s.c.Encoder.EncodePartition(rec)
	}

	if err != nil {
		s.metrics.IncPartitionErrors(apperrors.Kind(err))
		return "", err
	}
	s.metrics.IncPartitionKeys(label)
	return path, nil
}

func (s *Sink) deadLetter(ctx context.Context, msg *event.ConsumedMessage, stage string, cause error) error {
	meta := msg.Metadata
	pid := meta.PartitionID()

	s.logger.Warn("record rejected",
		"topic", meta.Topic,
		"partition", meta.Partition,
		"offset", meta.Offset,
		"stage", stage,
		"error", cause,
	)

	status := "dropped"
	if s.c.DLQ != nil {
		if err := s.c.DLQ.Publish(ctx, msg, stage, cause); err != nil {
			return fmt.Errorf("failed to dead-letter %s offset %d: %w", pid, meta.Offset, err)
		}
		s.metrics.IncDLQMessages(meta.Topic, stage)
		status = "dlq"
	}
	s.metrics.IncRecordsProcessed(meta.Topic, meta.Partition, status)

	s.advance(pid, meta.Offset)
	s.commit(ctx, pid)
	return nil
}

// FlushReady writes every buffer whose rotation policy fires. It is called
// periodically so idle partitions still rotate on age.
func (s *Sink) FlushReady(ctx context.Context) error {
	for _, key := range s.c.Buffers.Keys() {
		if !s.c.Policy.ShouldRotate(s.c.Buffers.GetOrCreate(key).Stats()) {
			continue
		}
		if err := s.flush(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes every non-empty buffer.
func (s *Sink) Flush(ctx context.Context) error {
	for _, key := range s.c.Buffers.Keys() {
		if err := s.flush(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// flush writes the buffer for key. The records stay buffered until the
// write succeeds, so a failed flush never moves the committed offset.
func (s *Sink) flush(ctx context.Context, key buffer.Key) error {
	records := s.c.Buffers.GetOrCreate(key).Records()
	if len(records) == 0 {
		s.c.Buffers.Remove(key)
		return nil
	}

	pid := key.Partition
	dir := s.c.Router.Route(pid, key.Path)
	start := s.now()

	size, err := s.write(ctx, records, dir)
	if err != nil {
		return fmt.Errorf("%w: %d records of %s to %s: %w", ErrWriteFailed, len(records), pid, dir, err)
	}
	s.c.Buffers.Remove(key)

	s.logger.Info("wrote file",
		"topic", pid.Topic,
		"partition", pid.Partition,
		"path", dir,
		"start_offset", records[0].Offset(),
		"records", len(records),
		"bytes", size,
	)
	s.metrics.ObserveProcessingDuration(pid.Topic, "flush", s.now().Sub(start).Seconds())

	s.reportUsage(pid)
	s.commit(ctx, pid)
	return nil
}

// write stores records, retrying retryable failures with exponential backoff.
func (s *Sink) write(ctx context.Context, records []event.Record, dir string) (int64, error) {
	retry := s.config.Retry
	b := &backoff.Backoff{
		Min:    retry.InitialBackoff,
		Max:    retry.MaxBackoff,
		Factor: retry.Multiplier,
		Jitter: true,
	}
	topic := records[0].Sink.Topic

	for attempt := 1; ; attempt++ {
		size, err := s.c.Writer.Write(ctx, records, dir, s.config.Format)
		if err == nil {
			return size, nil
		}
		if attempt >= retry.attempts() || !apperrors.IsRetryable(err) {
			return 0, err
		}

		delay := b.Duration()
		s.logger.Warn("storage write failed, retrying",
			"topic", topic,
			"path", dir,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		s.metrics.IncWriteRetries(topic)

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.after(delay):
		}
	}
}

func (s *Sink) advance(pid record.PartitionID, offset int64) {
	if next, ok := s.next[pid]; !ok || offset+1 > next {
		s.next[pid] = offset + 1
	}
}

// SafeOffset returns the offset that can be committed for pid: the lowest
// start offset still buffered, or the offset after the last handled message.
func (s *Sink) SafeOffset(pid record.PartitionID) (int64, bool) {
	safe, ok := s.next[pid]
	if !ok {
		return 0, false
	}
	for _, key := range s.c.Buffers.Keys() {
		if key.Partition != pid {
			continue
		}
		buf := s.c.Buffers.GetOrCreate(key)
		if buf.IsEmpty() {
			continue
		}
		if start := buf.Stats().StartOffset; start < safe {
			safe = start
		}
	}
	return safe, true
}

func (s *Sink) commit(ctx context.Context, pid record.PartitionID) {
	safe, ok := s.SafeOffset(pid)
	if !ok {
		return
	}
	if committed, ok := s.committed[pid]; ok && safe <= committed {
		return
	}

	if err := s.c.Consumer.Commit(ctx, pid, safe); err != nil {
		s.logger.Warn("failed to commit offset",
			"topic", pid.Topic,
			"partition", pid.Partition,
			"offset", safe,
			"error", err,
		)
		return
	}
	s.committed[pid] = safe
}

func (s *Sink) reportUsage(pid record.PartitionID) {
	var (
		bytes   int64
		records int
	)
	for _, key := range s.c.Buffers.Keys() {
		if key.Partition != pid {
			continue
		}
		stats := s.c.Buffers.GetOrCreate(key).Stats()
		bytes += stats.SizeBytes
		records += stats.RecordCount
	}
	s.metrics.SetBufferUsage(pid.Topic, pid.Partition, bytes, records)
}

func (s *Sink) setReady(component string, ready bool, detail string) {
	if s.c.Health != nil {
		s.c.Health.SetReady(component, ready, detail)
	}
}
