package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/prismsink/pkg/encoder"
	"github.com/jittakal/prismsink/pkg/event"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// SinkRecordParquet is the Parquet schema for stored records.
// Time columns use TIMESTAMP_MICROS for Athena compatibility.
type SinkRecordParquet struct {
	KafkaTopic     string    `parquet:"kafka_topic,dict"`
	KafkaPartition int32     `parquet:"kafka_partition"`
	KafkaOffset    int64     `parquet:"kafka_offset"`
	KafkaTimestamp time.Time `parquet:"kafka_timestamp,timestamp(microsecond)"`
	KafkaKey       []byte    `parquet:"kafka_key,optional"`

	SchemaName    *string `parquet:"schema_name,dict,optional"`
	SchemaVersion *int32  `parquet:"schema_version,optional"`

	PartitionPath string    `parquet:"partition_path,dict"`
	EventTime     time.Time `parquet:"event_time,timestamp(microsecond)"`
	Value         string    `parquet:"value"`

	IngestedAt time.Time `parquet:"ingested_at,timestamp(microsecond)"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet.
// Supports SNAPPY (default), GZIP, LZ4, ZSTD and uncompressed output.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts a compression name to a parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []event.Record) (*event.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	rows := make([]SinkRecordParquet, len(records))
	for i, rec := range records {
		row, err := convertToParquetRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		rows[i] = row
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer := parquet.NewGenericWriter[SinkRecordParquet](
		file,
		parquet.SchemaOf(new(SinkRecordParquet)),
		compressionCodec(e.compressionName),
		parquet.CreatedBy("prismsink", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
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

// convertToParquetRecord converts a Record to its Parquet row.
func convertToParquetRecord(rec event.Record) (SinkRecordParquet, error) {
	row, err := rowOf(rec)
	if err != nil {
		return SinkRecordParquet{}, err
	}

	return SinkRecordParquet{
		KafkaTopic:     row.KafkaTopic,
		KafkaPartition: row.KafkaPartition,
		KafkaOffset:    row.KafkaOffset,
		KafkaTimestamp: row.KafkaTimestamp,
		KafkaKey:       row.KafkaKey,
		SchemaName:     row.SchemaName,
		SchemaVersion:  row.SchemaVersion,
		PartitionPath:  row.PartitionPath,
		EventTime:      row.EventTime,
		Value:          row.Value,
		IngestedAt:     row.IngestedAt,
	}, nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() event.FileFormat {
	return event.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
