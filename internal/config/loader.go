package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/prismsink/internal/config/dto"
	"github.com/jittakal/prismsink/internal/encoder"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader. Every key can be overridden
// by an APP_ environment variable, e.g. APP_STORAGE_BACKEND.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables. A missing
// file is not an error.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand ${VAR} references in string values.
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "prismsink")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Kafka defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.consumer.auto_offset_reset", "earliest")
	l.v.SetDefault("kafka.consumer.enable_auto_commit", false)
	l.v.SetDefault("kafka.consumer.max_poll_interval_ms", 300000)
	l.v.SetDefault("kafka.consumer.session_timeout_ms", 30000)
	l.v.SetDefault("kafka.consumer.heartbeat_interval_ms", 10000)
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// Converter defaults
	l.v.SetDefault("converter.schemas_enable", true)

	// Partitioner defaults
	l.v.SetDefault("partitioner.class", "scheme")
	l.v.SetDefault("partitioner.directory_delim", "/")
	l.v.SetDefault("partitioner.schemes.saas_usage", []string{"com.sts.HealthMetric"})
	l.v.SetDefault("partitioner.schemes.user_event", []string{"com.sts.user_event"})
	l.v.SetDefault("partitioner.unknown_schema", "default")
	l.v.SetDefault("partitioner.topic_prefix", true)

	// Timestamp defaults
	l.v.SetDefault("timestamp.extractor", "record")

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", "parquet")
	l.v.SetDefault("storage.file.base_path", "./data")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)

	// File rotation defaults
	l.v.SetDefault("file_rotation.max_file_size_mb", 128)
	l.v.SetDefault("file_rotation.max_records_per_file", 100000)
	l.v.SetDefault("file_rotation.max_duration_seconds", 300)
	l.v.SetDefault("file_rotation.strategy", "composite")

	// Processing defaults
	l.v.SetDefault("processing.buffer_size_mb", 64)
	l.v.SetDefault("processing.buffer_flush_interval_seconds", 10)

	// Retry defaults
	l.v.SetDefault("retry.enabled", true)
	l.v.SetDefault("retry.max_attempts", 5)
	l.v.SetDefault("retry.initial_backoff_ms", 100)
	l.v.SetDefault("retry.max_backoff_ms", 30000)
	l.v.SetDefault("retry.backoff_multiplier", 2.0)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period_seconds", 30)
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	// Kafka validation
	if len(config.Kafka.BootstrapServers) == 0 {
		return errors.New("kafka.bootstrap_servers is required")
	}
	if len(config.Kafka.Consumer.Topics) == 0 {
		return errors.New("kafka.consumer.topics is required")
	}
	if config.Kafka.Consumer.GroupID == "" {
		return errors.New("kafka.consumer.group_id is required")
	}
	if config.Kafka.SASLMechanism == "AWS_MSK_IAM" && config.Kafka.AWSRegion == "" {
		return errors.New("kafka.aws_region is required for AWS_MSK_IAM")
	}

	// Storage validation
	switch config.Storage.Backend {
	case "s3":
		if err := config.Storage.S3.Validate(); err != nil {
			return fmt.Errorf("storage.s3: %w", err)
		}
	case "azure":
		if err := config.Storage.Azure.Validate(); err != nil {
			return fmt.Errorf("storage.azure: %w", err)
		}
	case "gcs":
		if config.Storage.GCS.Bucket == "" {
			return errors.New("storage.gcs.bucket is required for GCS backend")
		}
	case "file":
		if err := config.Storage.File.Validate(); err != nil {
			return fmt.Errorf("storage.file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}

	format, err := encoder.ParseFormat(config.Storage.Format)
	if err != nil {
		return fmt.Errorf("storage.format: %w", err)
	}
	if err := encoder.NewFactory(format, config.Storage.Compression).Validate(); err != nil {
		return fmt.Errorf("storage.compression: %w", err)
	}

	switch config.FileRotation.Strategy {
	case "composite", "size", "time", "count":
	default:
		return fmt.Errorf("unsupported rotation strategy: %s", config.FileRotation.Strategy)
	}

	if err := config.Partitioner.Validate(); err != nil {
		return err
	}

	switch config.Timestamp.Extractor {
	case "", "record", "kafka", "wallclock":
	default:
		return fmt.Errorf("unsupported timestamp.extractor: %s", config.Timestamp.Extractor)
	}

	if config.Retry.Enabled && config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", config.Retry.MaxAttempts)
	}

	// Port validation
	if config.Observability.Metrics.Port < 1 || config.Observability.Metrics.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", config.Observability.Metrics.Port)
	}
	if config.Observability.Health.Port < 1 || config.Observability.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", config.Observability.Health.Port)
	}

	return nil
}
