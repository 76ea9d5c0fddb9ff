package storage

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(topic string, partition int32, format string, status string)
	ObserveFileSize(topic string, partition int32, format string, size float64)
	ObserveStorageWriteDuration(topic string, partition int32, duration float64)
	IncStorageErrors(backend string, operation string)
}

// stagedFile is an encoded file waiting to be uploaded.
type stagedFile struct {
	path  string
	name  string
	stats *event.FileStats
}

func (f *stagedFile) remove(logger *slog.Logger) {
	removeTemp(logger, f.path)
}

// removeTemp deletes a staging file, logging when it cannot be removed.
func removeTemp(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove temporary file", "path", path, "error", err)
	}
}

// stage encodes records into a temporary file. The returned name is the
// object name the file is stored under.
func stage(factory *encoder.Factory, records []event.Record, backend string, logger *slog.Logger, metrics MetricsCollector) (*stagedFile, error) {
	enc, err := factory.CreateEncoder()
	if err != nil {
		countError(metrics, backend, "encoder_create")
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	tmp, err := os.CreateTemp("", backend+"-upload-*"+enc.FileExtension())
	if err != nil {
		countError(metrics, backend, "create")
		return nil, &errors.StorageError{Operation: "create", Path: os.TempDir(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		removeTemp(logger, tmp.Name())
		countError(metrics, backend, "create")
		return nil, &errors.StorageError{Operation: "create", Path: tmp.Name(), Err: err}
	}

	stats, err := enc.Encode(tmp.Name(), records)
	if err != nil {
		removeTemp(logger, tmp.Name())
		countError(metrics, backend, "encode")
		return nil, fmt.Errorf("failed to encode records: %w", err)
	}

	return &stagedFile{
		path:  tmp.Name(),
		name:  objectName(records, enc.FileExtension()),
		stats: stats,
	}, nil
}

// objectKey joins a key prefix and an object name.
func objectKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func countError(metrics MetricsCollector, backend, operation string) {
	if metrics != nil {
		metrics.IncStorageErrors(backend, operation)
	}
}

func observeWrite(metrics MetricsCollector, records []event.Record, format event.FileFormat, stats *event.FileStats, duration time.Duration) {
	if metrics == nil || len(records) == 0 {
		return
	}
	topic := records[0].Sink.Topic
	partition := records[0].Sink.Partition

	metrics.IncFilesWritten(topic, partition, string(format), "success")
	metrics.ObserveFileSize(topic, partition, string(format), float64(stats.SizeBytes))
	metrics.ObserveStorageWriteDuration(topic, partition, duration.Seconds())
}
