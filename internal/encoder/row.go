package encoder

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// storageRow is the flattened form of a record shared by all file formats.
type storageRow struct {
	KafkaTopic     string
	KafkaPartition int32
	KafkaOffset    int64
	KafkaTimestamp time.Time
	KafkaKey       []byte
	SchemaName     *string
	SchemaVersion  *int32
	PartitionPath  string
	EventTime      time.Time
	Value          string
	IngestedAt     time.Time
}

func rowOf(rec event.Record) (storageRow, error) {
	if rec.Sink == nil {
		return storageRow{}, fmt.Errorf("record has no sink record")
	}
	sink := rec.Sink

	value, err := valueJSON(sink.Value)
	if err != nil {
		return storageRow{}, fmt.Errorf("failed to marshal value: %w", err)
	}

	row := storageRow{
		KafkaTopic:     sink.Topic,
		KafkaPartition: sink.Partition,
		KafkaOffset:    sink.Offset,
		KafkaTimestamp: sink.Timestamp,
		KafkaKey:       sink.Key,
		PartitionPath:  rec.Path,
		EventTime:      rec.GetEventTime(),
		Value:          value,
		IngestedAt:     rec.ProcessedAt,
	}

	if s := sink.ValueSchema; s != nil {
		if s.Name != "" {
			name := s.Name
			row.SchemaName = &name
		}
		if s.Version > 0 {
			version := int32(s.Version)
			row.SchemaVersion = &version
		}
	}

	return row, nil
}

// valueJSON renders a Connect value as JSON, flattening structs to objects.
func valueJSON(v any) (string, error) {
	if s, ok := v.(*record.Struct); ok && s != nil {
		v = s.Map()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
