// Package event defines the message and record types that flow between the
// consumer, the partitioner and the storage writers.
package event

import (
	"time"

	"github.com/jittakal/prismsink/pkg/record"
)

// KafkaMetadata contains Kafka-specific metadata for a message.
type KafkaMetadata struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Headers   map[string]string
	Timestamp time.Time
}

// PartitionID returns the Kafka partition of the message.
func (m KafkaMetadata) PartitionID() record.PartitionID {
	return record.PartitionID{Topic: m.Topic, Partition: m.Partition}
}

// ConsumedMessage is a raw message read from Kafka.
type ConsumedMessage struct {
	Metadata   KafkaMetadata
	Value      []byte
	CommitFunc func() error
}

// Record is a converted, partitioned record ready for storage.
type Record struct {
	Sink *record.SinkRecord
	// Raw holds the original message value.
	Raw []byte
	// Path is the encoded partition, e.g. "customer_id=1/.../day=15".
	Path        string
	EventTime   time.Time
	ProcessedAt time.Time
}

// PartitionID returns the Kafka partition the record was read from.
func (r *Record) PartitionID() record.PartitionID {
	return r.Sink.PartitionID()
}

// Offset returns the Kafka offset of the record.
func (r *Record) Offset() int64 {
	return r.Sink.Offset
}

// GetEventTime returns the extracted event time, falling back to the Kafka
// timestamp when none was set.
func (r *Record) GetEventTime() time.Time {
	if !r.EventTime.IsZero() {
		return r.EventTime
	}
	return r.Sink.Timestamp
}

// Size returns the number of bytes the record contributes to a buffer.
func (r *Record) Size() int64 {
	return int64(len(r.Raw))
}

// FileStats contains statistics about buffered records.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
	// StartOffset is the lowest Kafka offset in the file.
	StartOffset int64
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// Converter turns raw Kafka messages into sink records.
type Converter interface {
	ToSinkRecord(msg *ConsumedMessage) (*record.SinkRecord, error)
}

// Validator validates converted records before partitioning.
type Validator interface {
	Validate(rec *record.SinkRecord) error
}
