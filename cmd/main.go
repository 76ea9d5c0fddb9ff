package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/jittakal/prismsink/internal/buffer"
	"github.com/jittakal/prismsink/internal/config"
	"github.com/jittakal/prismsink/internal/config/dto"
	"github.com/jittakal/prismsink/internal/converter"
	"github.com/jittakal/prismsink/internal/encoder"
	"github.com/jittakal/prismsink/internal/kafka"
	"github.com/jittakal/prismsink/internal/observability"
	"github.com/jittakal/prismsink/internal/partitioner"
	"github.com/jittakal/prismsink/internal/server"
	"github.com/jittakal/prismsink/internal/sink"
	"github.com/jittakal/prismsink/internal/storage"
	"github.com/jittakal/prismsink/internal/timeextract"
	"github.com/jittakal/prismsink/internal/validator"
	"github.com/jittakal/prismsink/pkg/consumer"
	"github.com/jittakal/prismsink/pkg/event"
	pkgstorage "github.com/jittakal/prismsink/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

// cleanups runs registered close functions in reverse order.
type cleanups struct {
	names []string
	fns   []func() error
}

func (c *cleanups) add(name string, fn func() error) {
	c.names = append(c.names, name)
	c.fns = append(c.fns, fn)
}

func (c *cleanups) run(logger *slog.Logger) error {
	var err error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if cerr := c.fns[i](); cerr != nil {
			logger.Error("cleanup failed", "component", c.names[i], "error", cerr)
			err = multierr.Append(err, fmt.Errorf("%s: %w", c.names[i], cerr))
		}
	}
	return err
}

func run() (err error) {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "config/application.yaml"
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	instanceID := cfg.Application.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	}).With("app", cfg.Application.Name, "instance_id", instanceID)

	logger.Info("starting prismsink",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
		"backend", cfg.Storage.Backend,
		"format", cfg.Storage.Format,
		"partitioner", cfg.Partitioner.Class,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	health := server.NewChecker("consumer", "storage")

	var closers cleanups
	defer func() {
		err = multierr.Append(err, closers.run(logger))
	}()

	httpServer := server.NewServer(server.Config{
		HealthPort:     cfg.Observability.Health.Port,
		MetricsPort:    cfg.Observability.Metrics.Port,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
		LivenessPath:   cfg.Observability.Health.LivenessPath,
		ReadinessPath:  cfg.Observability.Health.ReadinessPath,
		MetricsPath:    cfg.Observability.Metrics.Path,
	}, health, registry, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	closers.add("http-server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})

	pathEncoder, err := partitioner.New(partitionerConfig(cfg.Partitioner))
	if err != nil {
		return fmt.Errorf("failed to create partitioner: %w", err)
	}

	extractor, err := timeextract.New(cfg.Timestamp.Extractor, timeextract.Options{
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create timestamp extractor: %w", err)
	}

	format, err := encoder.ParseFormat(cfg.Storage.Format)
	if err != nil {
		return err
	}
	compression := cfg.Storage.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(format)
	}
	if err := encoder.NewFactory(format, compression).Validate(); err != nil {
		return err
	}

	writer, err := newWriter(cfg, format, compression, logger, metrics)
	if err != nil {
		return err
	}
	closers.add("storage-writer", writer.Close)
	health.SetReady("storage", true, cfg.Storage.Backend)

	consumerConfig := kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AWSRegion:           cfg.Kafka.AWSRegion,
		TLSSkipVerify:       cfg.Kafka.TLSSkipVerify,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		EnableAutoCommit:    cfg.Kafka.Consumer.EnableAutoCommit,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
		ChannelBufferSize:   cfg.Kafka.Consumer.ChannelBufferSize,
	}
	kafkaConsumer, err := kafka.NewSaramaConsumer(consumerConfig, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	closers.add("kafka-consumer", kafkaConsumer.Close)

	var dlq consumer.DLQPublisher
	if cfg.Kafka.DLQ.Enabled {
		publisher, err := kafka.NewDLQPublisher(consumerConfig, kafka.DLQConfig{
			Enabled:     true,
			TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
			MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
		}, logger, instanceID)
		if err != nil {
			return fmt.Errorf("failed to create DLQ publisher: %w", err)
		}
		closers.add("dlq-publisher", publisher.Close)
		dlq = publisher
	}

	if err := kafkaConsumer.Subscribe(context.Background(), cfg.Kafka.Consumer.Topics); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	s, err := sink.New(sink.Components{
		Consumer:  kafkaConsumer,
		DLQ:       dlq,
		Converter: converter.NewJSONConverter(cfg.Converter.SchemasEnable),
		Validator: validator.NewStructValidator(),
		Encoder:   pathEncoder,
		Extractor: extractor,
		Router:    storage.NewRouter(storageProtocol(cfg.Storage.Backend), storageBucket(cfg), storageBasePath(cfg), cfg.Partitioner.TopicPrefix),
		Policy: storage.NewPolicy(storage.PolicyConfig{
			MaxFileSizeMB:      cfg.FileRotation.MaxFileSizeMB,
			MaxRecordsPerFile:  cfg.FileRotation.MaxRecordsPerFile,
			MaxDurationSeconds: cfg.FileRotation.MaxDurationSeconds,
			Strategy:           cfg.FileRotation.Strategy,
		}),
		Writer:  writer,
		Buffers: buffer.NewManager(int64(cfg.Processing.BufferSizeMB)*1024*1024, cfg.FileRotation.MaxRecordsPerFile),
		Health:  health,
	}, sink.Config{
		Format:           format,
		PartitionerClass: cfg.Partitioner.Class,
		FlushInterval:    time.Duration(cfg.Processing.BufferFlushIntervalSec) * time.Second,
		ShutdownTimeout:  cfg.Shutdown.GracePeriod(),
		Retry: sink.RetryConfig{
			Enabled:        cfg.Retry.Enabled,
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond,
			Multiplier:     cfg.Retry.BackoffMultiplier,
		},
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("application started successfully", "topics", cfg.Kafka.Consumer.Topics)

	if err := s.Run(ctx); err != nil {
		health.SetFatal(err)
		logger.Error("sink stopped", "error", err)
		return err
	}

	logger.Info("application stopped successfully")
	return nil
}

func newWriter(
	cfg *dto.ApplicationConfig,
	format event.FileFormat,
	compression string,
	logger *slog.Logger,
	metrics storage.MetricsCollector,
) (pkgstorage.Writer, error) {
	switch cfg.Storage.Backend {
	case "file":
		w, err := storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return w, nil
	case "s3":
		w, err := storage.NewS3Writer(storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return w, nil
	case "azure":
		w, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    cfg.Storage.Azure.AccountKey,
			ContainerName: cfg.Storage.Azure.Container,
			Endpoint:      cfg.Storage.Azure.Endpoint,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return w, nil
	case "gcs":
		w, err := storage.NewGCSWriter(storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      cfg.Storage.GCS.CredentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}

func partitionerConfig(cfg dto.PartitionerConfig) partitioner.Config {
	classifier := partitioner.DefaultClassifierConfig()
	if len(cfg.Schemes.SaasUsage) > 0 {
		classifier.SaasUsageNames = cfg.Schemes.SaasUsage
	}
	if len(cfg.Schemes.UserEvent) > 0 {
		classifier.UserEventNames = cfg.Schemes.UserEvent
	}
	if cfg.UnknownSchema != "" {
		classifier.UnknownSchema = partitioner.UnknownSchemaPolicy(cfg.UnknownSchema)
	}

	return partitioner.Config{
		Class:      cfg.Class,
		Delim:      cfg.DirectoryDelim,
		FieldNames: cfg.FieldNames,
		Classifier: classifier,
	}
}

func storageProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

func storageBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.Bucket
	case "azure":
		return cfg.Storage.Azure.Container
	case "gcs":
		return cfg.Storage.GCS.Bucket
	default:
		return cfg.Storage.File.Bucket
	}
}

func storageBasePath(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.BasePath
	case "azure":
		return cfg.Storage.Azure.BasePath
	case "gcs":
		return cfg.Storage.GCS.BasePath
	default:
		return ""
	}
}
