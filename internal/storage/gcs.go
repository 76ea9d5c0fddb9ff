package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	pkgstorage "github.com/jittakal/prismsink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// Validate checks the required fields.
func (c GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs: bucket is required")
	}
	return nil
}

// clientOptions picks the authentication method. Explicit JSON wins over a
// credentials file; with neither, application default credentials are used.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	switch {
	case c.UseDefaultCredential:
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	client         *storage.Client
	bucket         string
	newObject      func(ctx context.Context, bucket, object string, format event.FileFormat) io.WriteCloser
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	cfg GCSConfig,
	format event.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := storage.NewClient(context.Background(), cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("GCS writer created",
		"bucket", cfg.Bucket,
		"project_id", cfg.ProjectID,
		"format", format,
		"compression", compression,
	)

	w := &GCSWriter{
		client:         client,
		bucket:         cfg.Bucket,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}
	w.newObject = w.objectWriter
	return w, nil
}

func (w *GCSWriter) objectWriter(ctx context.Context, bucket, object string, format event.FileFormat) io.WriteCloser {
	ow := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	ow.ContentType = contentType(format)
	return ow
}

func contentType(format event.FileFormat) string {
	if format == event.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}

// Write encodes records and uploads them as one object under dir.
func (w *GCSWriter) Write(
	ctx context.Context,
	records []event.Record,
	dir string,
	format event.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	startTime := time.Now()

	staged, err := stage(w.encoderFactory, records, "gcs", w.logger, w.metrics)
	if err != nil {
		return 0, err
	}
	defer staged.remove(w.logger)

	bucket, prefix := splitURI(dir)
	if bucket == "" {
		bucket = w.bucket
	}
	object := objectKey(prefix, staged.name)
	uri := "gs://" + bucket + "/" + object

	file, err := os.Open(staged.path)
	if err != nil {
		countError(w.metrics, "gcs", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	ow := w.newObject(ctx, bucket, object, format)
	bytesWritten, err := io.Copy(ow, file)
	if err != nil {
		ow.Close()
		countError(w.metrics, "gcs", "upload")
		return 0, &errors.StorageError{Operation: "upload", Path: uri, Err: err}
	}
	// The object is committed on Close.
	if err := ow.Close(); err != nil {
		countError(w.metrics, "gcs", "close")
		return 0, &errors.StorageError{Operation: "upload", Path: uri, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to GCS",
		"bucket", bucket,
		"object", object,
		"record_count", staged.stats.RecordCount,
		"file_size", staged.stats.SizeBytes,
		"bytes_written", bytesWritten,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)
	observeWrite(w.metrics, records, format, staged.stats, duration)

	return staged.stats.SizeBytes, nil
}

// Close closes the GCS client.
func (w *GCSWriter) Close() error {
	w.logger.Info("closing GCS writer")
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
