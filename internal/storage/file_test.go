package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jittakal/prismsink/pkg/event"
)

func TestNewFileWriter(t *testing.T) {
	tests := []struct {
		name        string
		format      event.FileFormat
		compression string
		wantErr     bool
	}{
		{"parquet", event.FormatParquet, "snappy", false},
		{"avro", event.FormatAvro, "gzip", false},
		{"unknown format", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, tt.format, tt.compression, testLogger(), nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFileWriter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFileWriter_Write(t *testing.T) {
	base := t.TempDir()
	metrics := &mockMetricsCollector{}
	w, err := NewFileWriter(FileConfig{BasePath: base}, event.FormatParquet, "snappy", testLogger(), metrics)
	if err != nil {
		t.Fatalf("NewFileWriter() error = %v", err)
	}

	router := NewRouter("file", "lake", "data", true)
	records := testRecords(250, 4)
	dir := router.Route(records[0].Sink.PartitionID(), testPath)

	size, err := w.Write(context.Background(), records, dir, event.FormatParquet)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := filepath.Join(base, "lake", "data", "metrics", filepath.FromSlash(testPath), "metrics+3+0000000250.parquet")
	info, err := os.Stat(want)
	if err != nil {
		t.Fatalf("expected file %s: %v", want, err)
	}
	if info.Size() != size {
		t.Errorf("Write() = %d, file is %d bytes", size, info.Size())
	}

	entries, err := os.ReadDir(filepath.Dir(want))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only the final file", len(entries))
	}

	if metrics.filesWritten != 1 || metrics.lastTopic != "metrics" || metrics.lastPartition != 3 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestFileWriter_WriteEmpty(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatAvro, "", testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(context.Background(), nil, "file://b/p/", event.FormatAvro); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestFileWriter_CanceledContext(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatAvro, "", testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Write(ctx, testRecords(0, 1), "file://b/p/", event.FormatAvro); err == nil {
		t.Error("expected context error")
	}
}

func TestFileWriter_Close(t *testing.T) {
	w, err := NewFileWriter(FileConfig{BasePath: t.TempDir()}, event.FormatAvro, "", testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
