package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// Validate checks the required fields.
func (c AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure: account name is required")
	}
	if c.AccountKey == "" {
		return fmt.Errorf("azure: account key is required")
	}
	if c.ContainerName == "" {
		return fmt.Errorf("azure: container name is required")
	}
	return nil
}

func (c AzureConfig) connectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

type blobUploader interface {
	UploadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.UploadFileOptions) (azblob.UploadFileResponse, error)
}

// AzureWriter implements storage.Writer for Azure Blob Storage. The bucket
// of a routed directory is the container.
type AzureWriter struct {
	client         blobUploader
	containerName  string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format event.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("Azure writer created",
		"container", cfg.ContainerName,
		"account", cfg.AccountName,
		"format", format,
		"compression", compression,
	)

	return &AzureWriter{
		client:         client,
		containerName:  cfg.ContainerName,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes records and uploads them as one blob under dir.
func (w *AzureWriter) Write(ctx context.Context, records []event.Record, dir string, format event.FileFormat) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	startTime := time.Now()

	staged, err := stage(w.encoderFactory, records, "azure", w.logger, w.metrics)
	if err != nil {
		return 0, err
	}
	defer staged.remove(w.logger)

	container, prefix := splitURI(dir)
	if container == "" {
		container = w.containerName
	}
	blob := objectKey(prefix, staged.name)

	file, err := os.Open(staged.path)
	if err != nil {
		countError(w.metrics, "azure", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	if _, err := w.client.UploadFile(ctx, container, blob, file, nil); err != nil {
		countError(w.metrics, "azure", "upload")
		return 0, &errors.StorageError{Operation: "upload", Path: container + "/" + blob, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to Azure Blob",
		"container", container,
		"blob", blob,
		"record_count", staged.stats.RecordCount,
		"file_size", staged.stats.SizeBytes,
		"format", format,
		"total_duration_ms", duration.Milliseconds(),
	)
	observeWrite(w.metrics, records, format, staged.stats, duration)

	return staged.stats.SizeBytes, nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
