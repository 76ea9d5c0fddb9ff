// Package encoder implements file format encoders.
package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/prismsink/pkg/encoder"
	"github.com/jittakal/prismsink/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for Avro OCF (Object Container
// File). "deflate" and "snappy" use the OCF block codecs; "gzip" compresses
// the whole file.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema())
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: strings.ToLower(compression),
	}, nil
}

// avroSchema returns the Avro schema for stored records.
func avroSchema() string {
	return `{
		"type": "record",
		"name": "SinkRecord",
		"namespace": "com.prismsink",
		"fields": [
			{"name": "kafka_topic", "type": "string"},
			{"name": "kafka_partition", "type": "int"},
			{"name": "kafka_offset", "type": "long"},
			{"name": "kafka_timestamp", "type": "string"},
			{"name": "kafka_key", "type": ["null", "bytes"], "default": null},
			{"name": "schema_name", "type": ["null", "string"], "default": null},
			{"name": "schema_version", "type": ["null", "int"], "default": null},
			{"name": "partition_path", "type": "string"},
			{"name": "event_time", "type": "string"},
			{"name": "value", "type": "string"},
			{"name": "ingested_at", "type": "string"}
		]
	}`
}

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip"
}

func (e *AvroEncoder) blockCodec() string {
	switch e.compression {
	case "deflate":
		return goavro.CompressionDeflateLabel
	case "snappy":
		return goavro.CompressionSnappyLabel
	default:
		return goavro.CompressionNullLabel
	}
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := e.write(file, records); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return fileStats(records, fileInfo.Size()), nil
}

// EncodeToBytes encodes records to bytes.
func (e *AvroEncoder) EncodeToBytes(records []event.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) write(w io.Writer, records []event.Record) error {
	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           e.codec,
		CompressionName: e.blockCodec(),
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	for i, rec := range records {
		avroMap, err := convertToAvroMap(rec)
		if err != nil {
			return fmt.Errorf("failed to convert record %d: %w", i, err)
		}

		if err := ocfWriter.Append([]interface{}{avroMap}); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

// convertToAvroMap converts a Record to its Avro map representation.
func convertToAvroMap(rec event.Record) (map[string]interface{}, error) {
	row, err := rowOf(rec)
	if err != nil {
		return nil, err
	}

	avroMap := map[string]interface{}{
		"kafka_topic":     row.KafkaTopic,
		"kafka_partition": row.KafkaPartition,
		"kafka_offset":    row.KafkaOffset,
		"kafka_timestamp": row.KafkaTimestamp.Format(time.RFC3339Nano),
		"kafka_key":       nil,
		"schema_name":     nil,
		"schema_version":  nil,
		"partition_path":  row.PartitionPath,
		"event_time":      row.EventTime.UTC().Format(time.RFC3339Nano),
		"value":           row.Value,
		"ingested_at":     row.IngestedAt.Format(time.RFC3339Nano),
	}

	if row.KafkaKey != nil {
		avroMap["kafka_key"] = goavro.Union("bytes", row.KafkaKey)
	}
	if row.SchemaName != nil {
		avroMap["schema_name"] = goavro.Union("string", *row.SchemaName)
	}
	if row.SchemaVersion != nil {
		avroMap["schema_version"] = goavro.Union("int", *row.SchemaVersion)
	}

	return avroMap, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() event.FileFormat {
	return event.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}

// fileStats summarises an encoded file.
func fileStats(records []event.Record, size int64) *event.FileStats {
	stats := &event.FileStats{
		RecordCount:    len(records),
		SizeBytes:      size,
		FirstWriteTime: time.Now(),
		LastWriteTime:  time.Now(),
		StartOffset:    records[0].Offset(),
	}
	for _, rec := range records[1:] {
		if o := rec.Offset(); o < stats.StartOffset {
			stats.StartOffset = o
		}
	}
	return stats
}
