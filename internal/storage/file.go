package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for the local filesystem. The bucket
// of a routed directory becomes a directory under BasePath.
//
// Files are encoded under a hidden name and renamed into place, so readers
// never see a partial file.
type FileWriter struct {
	basePath       string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format event.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("filesystem writer created",
		"base_path", config.BasePath,
		"format", format,
		"compression", compression,
	)

	return &FileWriter{
		basePath:       config.BasePath,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes records into one file under dir.
func (w *FileWriter) Write(
	ctx context.Context,
	records []event.Record,
	dir string,
	format event.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	enc, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		countError(w.metrics, "file", "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	bucket, prefix := splitURI(dir)
	target := filepath.Join(w.basePath, bucket, filepath.FromSlash(prefix))
	if err := os.MkdirAll(target, 0755); err != nil {
		countError(w.metrics, "file", "mkdir")
		return 0, &errors.StorageError{Operation: "create", Path: target, Err: err}
	}

	name := objectName(records, enc.FileExtension())
	fullPath := filepath.Join(target, name)
	tmpPath := filepath.Join(target, "."+name+".tmp")

	stats, err := enc.Encode(tmpPath, records)
	if err != nil {
		removeTemp(w.logger, tmpPath)
		countError(w.metrics, "file", "encode")
		return 0, fmt.Errorf("failed to encode records: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		removeTemp(w.logger, tmpPath)
		countError(w.metrics, "file", "rename")
		return 0, &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to file",
		"path", fullPath,
		"record_count", stats.RecordCount,
		"start_offset", stats.StartOffset,
		"file_size", stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)
	observeWrite(w.metrics, records, format, stats, duration)

	return stats.SizeBytes, nil
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.logger.Info("closing filesystem writer")
	return nil
}
