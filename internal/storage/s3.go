package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// Validate checks the required fields.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3: bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3: region is required")
	}
	return nil
}

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Writer implements storage.Writer for AWS S3 using multipart uploads,
// with optional server-side encryption.
type S3Writer struct {
	uploader       s3Uploader
	bucket         string
	sseEnabled     bool
	sseKMSKeyID    string
	encoderFactory *encoder.Factory
	logger         *slog.Logger
	metrics        MetricsCollector
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	cfg S3Config,
	format event.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsConfig, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("S3 writer created",
		"bucket", cfg.Bucket,
		"region", cfg.Region,
		"format", format,
		"compression", compression,
		"sse_enabled", cfg.SSEEnabled,
	)

	return &S3Writer{
		uploader:       uploader,
		bucket:         cfg.Bucket,
		sseEnabled:     cfg.SSEEnabled,
		sseKMSKeyID:    cfg.SSEKMSKeyID,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metrics,
	}, nil
}

// Write encodes records and uploads them as one object under dir.
func (w *S3Writer) Write(
	ctx context.Context,
	records []event.Record,
	dir string,
	format event.FileFormat,
) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	startTime := time.Now()

	staged, err := stage(w.encoderFactory, records, "s3", w.logger, w.metrics)
	if err != nil {
		return 0, err
	}
	defer staged.remove(w.logger)

	bucket, prefix := splitURI(dir)
	if bucket == "" {
		bucket = w.bucket
	}
	key := objectKey(prefix, staged.name)

	file, err := os.Open(staged.path)
	if err != nil {
		countError(w.metrics, "s3", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	result, err := w.uploader.Upload(ctx, w.putObjectInput(bucket, key, file))
	if err != nil {
		countError(w.metrics, "s3", "upload")
		return 0, &errors.StorageError{Operation: "upload", Path: "s3://" + bucket + "/" + key, Err: err}
	}

	duration := time.Since(startTime)

	w.logger.Info("wrote records to S3",
		"bucket", bucket,
		"key", key,
		"record_count", staged.stats.RecordCount,
		"file_size", staged.stats.SizeBytes,
		"format", format,
		"location", result.Location,
		"total_duration_ms", duration.Milliseconds(),
	)
	observeWrite(w.metrics, records, format, staged.stats, duration)

	return staged.stats.SizeBytes, nil
}

func (w *S3Writer) putObjectInput(bucket, key string, body *os.File) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}

	if w.sseEnabled {
		if w.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}
	return input
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("closing S3 writer")
	return nil
}
