package storage

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

type mockMetricsCollector struct {
	filesWritten       int
	fileSizes          []float64
	storageDurations   []float64
	storageErrors      int
	lastFileStatus     string
	lastTopic          string
	lastPartition      int32
	lastFormat         string
	lastErrorBackend   string
	lastErrorOperation string
}

func (m *mockMetricsCollector) IncFilesWritten(topic string, partition int32, format string, status string) {
	m.filesWritten++
	m.lastTopic = topic
	m.lastPartition = partition
	m.lastFormat = format
	m.lastFileStatus = status
}

func (m *mockMetricsCollector) ObserveFileSize(topic string, partition int32, format string, size float64) {
	m.fileSizes = append(m.fileSizes, size)
}

func (m *mockMetricsCollector) ObserveStorageWriteDuration(topic string, partition int32, duration float64) {
	m.storageDurations = append(m.storageDurations, duration)
}

func (m *mockMetricsCollector) IncStorageErrors(backend string, operation string) {
	m.storageErrors++
	m.lastErrorBackend = backend
	m.lastErrorOperation = operation
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testPath = "customer_id=42/product_id=7/instance_id=3/year=2024/month=03/day=15"

// testRecords returns n records of metrics partition 3 starting at offset.
func testRecords(offset int64, n int) []event.Record {
	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	records := make([]event.Record, n)
	for i := range records {
		records[i] = event.Record{
			Sink: &record.SinkRecord{
				Topic:     "metrics",
				Partition: 3,
				Offset:    offset + int64(i),
				Value:     map[string]any{"metric_date": "2024-03-15"},
				Timestamp: ts,
			},
			Raw:         []byte(`{"metric_date":"2024-03-15"}`),
			Path:        testPath,
			EventTime:   ts,
			ProcessedAt: ts,
		}
	}
	return records
}

func TestStage(t *testing.T) {
	metrics := &mockMetricsCollector{}
	factory := encoder.NewFactory(event.FormatAvro, "deflate")

	staged, err := stage(factory, testRecords(100, 3), "s3", testLogger(), metrics)
	if err != nil {
		t.Fatalf("stage() error = %v", err)
	}
	defer staged.remove(testLogger())

	if staged.name != "metrics+3+0000000100.avro" {
		t.Errorf("name = %q", staged.name)
	}
	if staged.stats.RecordCount != 3 || staged.stats.StartOffset != 100 {
		t.Errorf("stats = %+v", staged.stats)
	}
	info, err := os.Stat(staged.path)
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if info.Size() != staged.stats.SizeBytes {
		t.Errorf("size = %d, stats say %d", info.Size(), staged.stats.SizeBytes)
	}

	staged.remove(testLogger())
	if _, err := os.Stat(staged.path); !os.IsNotExist(err) {
		t.Error("remove() left the staged file behind")
	}
}

func TestStage_EncodeError(t *testing.T) {
	metrics := &mockMetricsCollector{}
	factory := encoder.NewFactory(event.FormatParquet, "snappy")
	records := testRecords(0, 1)
	records[0].Sink.Value = make(chan int)

	if _, err := stage(factory, records, "gcs", testLogger(), metrics); err == nil {
		t.Fatal("expected encode error")
	}
	if metrics.lastErrorBackend != "gcs" || metrics.lastErrorOperation != "encode" {
		t.Errorf("error metric = %s/%s", metrics.lastErrorBackend, metrics.lastErrorOperation)
	}
}

func TestStage_UnsupportedFormat(t *testing.T) {
	metrics := &mockMetricsCollector{}
	if _, err := stage(encoder.NewFactory("csv", ""), testRecords(0, 1), "s3", testLogger(), metrics); err == nil {
		t.Fatal("expected encoder error")
	}
	if metrics.lastErrorOperation != "encoder_create" {
		t.Errorf("operation = %q", metrics.lastErrorOperation)
	}
}

func TestRemoveTemp(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	removeTemp(logger, filepath.Join(t.TempDir(), "missing.avro"))
	if buf.Len() != 0 {
		t.Errorf("missing file should not be logged: %s", buf.String())
	}

	// A non-empty directory cannot be removed.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "part.avro"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	removeTemp(logger, dir)
	if !strings.Contains(buf.String(), "failed to remove temporary file") {
		t.Errorf("expected cleanup failure to be logged, got: %s", buf.String())
	}
}

func TestObjectKey(t *testing.T) {
	if got := objectKey("", "a.avro"); got != "a.avro" {
		t.Errorf("objectKey() = %q", got)
	}
	if got := objectKey("x/y", "a.avro"); got != "x/y/a.avro" {
		t.Errorf("objectKey() = %q", got)
	}
}

func TestObserveWrite(t *testing.T) {
	metrics := &mockMetricsCollector{}
	stats := &event.FileStats{SizeBytes: 512}

	observeWrite(metrics, testRecords(0, 2), event.FormatParquet, stats, time.Second)

	if metrics.filesWritten != 1 || metrics.lastTopic != "metrics" || metrics.lastPartition != 3 {
		t.Errorf("metrics = %+v", metrics)
	}
	if metrics.lastFormat != "parquet" || metrics.lastFileStatus != "success" {
		t.Errorf("format/status = %s/%s", metrics.lastFormat, metrics.lastFileStatus)
	}
	if len(metrics.fileSizes) != 1 || metrics.fileSizes[0] != 512 {
		t.Errorf("fileSizes = %v", metrics.fileSizes)
	}

	// Nil collectors are allowed.
	observeWrite(nil, testRecords(0, 1), event.FormatParquet, stats, time.Second)
	countError(nil, "s3", "upload")
}
