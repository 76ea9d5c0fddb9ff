package encoder

import (
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/prismsink/pkg/event"
)

func TestParquetEncoder_Encode(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "metrics+1+10.parquet")

	records := []event.Record{siteRecord(10), siteRecord(11)}
	stats, err := NewParquetEncoder("snappy").Encode(testFile, records)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if stats.RecordCount != 2 || stats.StartOffset != 10 || stats.SizeBytes == 0 {
		t.Errorf("stats = %+v", stats)
	}

	rows, err := parquet.ReadFile[SinkRecordParquet](testFile)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("read %d rows, want 2", len(rows))
	}

	rec := rows[0]
	if rec.KafkaTopic != "metrics" || rec.KafkaPartition != 1 || rec.KafkaOffset != 10 {
		t.Errorf("kafka columns = %s/%d/%d", rec.KafkaTopic, rec.KafkaPartition, rec.KafkaOffset)
	}
	if rec.PartitionPath != "customer_id=42/year=2024/month=03/day=15" {
		t.Errorf("partition_path = %q", rec.PartitionPath)
	}
	if rec.SchemaName == nil || *rec.SchemaName != "com.sts.SiteMetric" {
		t.Errorf("schema_name = %v", rec.SchemaName)
	}
	if rec.Value != `{"customer_id":42,"metric_date":"2024-03-15"}` {
		t.Errorf("value = %s", rec.Value)
	}
	if rec.KafkaTimestamp.IsZero() || rec.EventTime.IsZero() || rec.IngestedAt.IsZero() {
		t.Error("timestamp columns should not be zero")
	}
}

func TestParquetEncoder_CompressionCodecs(t *testing.T) {
	tempDir := t.TempDir()
	records := []event.Record{siteRecord(1)}

	for _, compression := range []string{"snappy", "gzip", "lz4", "zstd", "uncompressed"} {
		t.Run(compression, func(t *testing.T) {
			testFile := filepath.Join(tempDir, compression+".parquet")

			stats, err := NewParquetEncoder(compression).Encode(testFile, records)
			if err != nil {
				t.Fatalf("Encode() with %s error = %v", compression, err)
			}
			if stats.RecordCount != 1 {
				t.Errorf("RecordCount = %d, want 1", stats.RecordCount)
			}

			rows, err := parquet.ReadFile[SinkRecordParquet](testFile)
			if err != nil {
				t.Fatalf("failed to read file: %v", err)
			}
			if len(rows) != 1 {
				t.Errorf("read %d rows, want 1", len(rows))
			}
		})
	}
}

func TestParquetEncoder_NullHandling(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "null-test.parquet")

	if _, err := NewParquetEncoder("snappy").Encode(testFile, []event.Record{bareRecord(1)}); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	rows, err := parquet.ReadFile[SinkRecordParquet](testFile)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("read %d rows, want 1", len(rows))
	}

	rec := rows[0]
	if rec.SchemaName != nil {
		t.Error("schema_name should be nil")
	}
	if rec.SchemaVersion != nil {
		t.Error("schema_version should be nil")
	}
	if rec.Value != `{"n":1}` {
		t.Errorf("value = %s", rec.Value)
	}
}
