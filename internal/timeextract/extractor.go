// Package timeextract derives record event times for time-based file naming
// and rotation.
package timeextract

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jittakal/prismsink/pkg/partitioner"
	"github.com/jittakal/prismsink/pkg/record"
)

// Ensure implementations satisfy interfaces.
var (
	_ partitioner.TimestampExtractor = (*RecordExtractor)(nil)
	_ partitioner.TimestampExtractor = (*KafkaExtractor)(nil)
	_ partitioner.TimestampExtractor = (*WallclockExtractor)(nil)
)

// Extractor names accepted by New.
const (
	NameRecord    = "record"
	NameKafka     = "kafka"
	NameWallclock = "wallclock"
)

const dateLayout = "2006-01-02"

// Clock returns the current time.
type Clock func() time.Time

// FallbackRecorder counts records whose time fell back to the clock.
type FallbackRecorder interface {
	IncTimestampFallbacks(topic string)
}

// Options configures an extractor. Zero values select the wall clock,
// slog.Default and no metrics.
type Options struct {
	Clock   Clock
	Logger  *slog.Logger
	Metrics FallbackRecorder
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New creates the extractor selected by name.
func New(name string, opts Options) (partitioner.TimestampExtractor, error) {
	switch name {
	case NameRecord, "":
		return NewRecordExtractor(opts), nil
	case NameKafka:
		return NewKafkaExtractor(opts), nil
	case NameWallclock:
		return NewWallclockExtractor(opts.Clock), nil
	default:
		return nil, fmt.Errorf("unknown timestamp extractor: %q", name)
	}
}

// RecordExtractor reads the event time from the record value. The first
// candidate field present in the schema decides the time:
//
//	metric_date                  date, UTC midnight
//	objectChangeMetadata.timestamp RFC 3339
//	sampleDate                   date, UTC midnight
//	event.timestamp              RFC 3339
//	timestamp                    RFC 3339 or epoch millis
//	date                         RFC 3339
//
// If no candidate is present or the value cannot be parsed the clock is used
// and a warning is logged.
type RecordExtractor struct {
	clock   Clock
	logger  *slog.Logger
	metrics FallbackRecorder
}

// NewRecordExtractor creates a record extractor.
func NewRecordExtractor(opts Options) *RecordExtractor {
	opts = opts.withDefaults()
	return &RecordExtractor{
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Extract returns the event time of rec in epoch milliseconds.
func (e *RecordExtractor) Extract(rec *record.SinkRecord) int64 {
	ts, err := fromValue(rec)
	if err == nil {
		return ts.UnixMilli()
	}

	now := e.clock()
	e.logger.Warn("Timestamp extraction failed, using system time",
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset,
		"error", err)
	if e.metrics != nil {
		e.metrics.IncTimestampFallbacks(rec.Topic)
	}
	return now.UnixMilli()
}

func fromValue(rec *record.SinkRecord) (time.Time, error) {
	s := rec.Struct()
	if s == nil {
		return time.Time{}, fmt.Errorf("value is not a struct: %T", rec.Value)
	}
	schema := rec.ValueSchema
	if schema == nil {
		schema = s.Schema()
	}

	switch {
	case schema.HasFields("metric_date"):
		return parseDate(s, "metric_date")
	case schema.HasFields("objectChangeMetadata"):
		return parseNested(s, "objectChangeMetadata", "timestamp")
	case schema.HasFields("sampleDate"):
		return parseDate(s, "sampleDate")
	case schema.HasFields("event"):
		return parseNested(s, "event", "timestamp")
	case schema.HasFields("timestamp"):
		v, _ := s.Get("timestamp")
		return parseTimestamp("timestamp", v)
	case schema.HasFields("date"):
		v, _ := s.Get("date")
		return parseTimestamp("date", v)
	default:
		return time.Time{}, fmt.Errorf("no timestamp field in schema %s", schema)
	}
}

func parseDate(s *record.Struct, field string) (time.Time, error) {
	v, _ := s.Get(field)
	str, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("field %s: expected date string, got %T", field, v)
	}
	t, err := time.ParseInLocation(dateLayout, str, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", field, err)
	}
	return t, nil
}

func parseNested(s *record.Struct, field, inner string) (time.Time, error) {
	v, _ := s.Get(field)
	nested, ok := v.(*record.Struct)
	if !ok || nested == nil {
		return time.Time{}, fmt.Errorf("field %s: expected struct, got %T", field, v)
	}
	iv, _ := nested.Get(inner)
	return parseTimestamp(field+"."+inner, iv)
}

func parseTimestamp(field string, v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", field, err)
		}
		return parsed.UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("field %s: unsupported timestamp value %T", field, v)
	}
}

// KafkaExtractor uses the Kafka record timestamp, falling back to the clock
// when the record carries none.
type KafkaExtractor struct {
	clock   Clock
	logger  *slog.Logger
	metrics FallbackRecorder
}

// NewKafkaExtractor creates a Kafka timestamp extractor.
func NewKafkaExtractor(opts Options) *KafkaExtractor {
	opts = opts.withDefaults()
	return &KafkaExtractor{clock: opts.Clock, logger: opts.Logger, metrics: opts.Metrics}
}

// Extract returns the Kafka timestamp of rec in epoch milliseconds.
func (e *KafkaExtractor) Extract(rec *record.SinkRecord) int64 {
	if !rec.Timestamp.IsZero() {
		return rec.Timestamp.UnixMilli()
	}
	e.logger.Debug("Record has no Kafka timestamp, using system time",
		"topic", rec.Topic,
		"partition", rec.Partition,
		"offset", rec.Offset)
	if e.metrics != nil {
		e.metrics.IncTimestampFallbacks(rec.Topic)
	}
	return e.clock().UnixMilli()
}

// WallclockExtractor always returns the current time.
type WallclockExtractor struct {
	clock Clock
}

// NewWallclockExtractor creates a wall clock extractor. A nil clock uses time.Now.
func NewWallclockExtractor(clock Clock) *WallclockExtractor {
	if clock == nil {
		clock = time.Now
	}
	return &WallclockExtractor{clock: clock}
}

// Extract returns the current time in epoch milliseconds.
func (e *WallclockExtractor) Extract(*record.SinkRecord) int64 {
	return e.clock().UnixMilli()
}
