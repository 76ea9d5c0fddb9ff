package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Converter     ConverterConfig     `mapstructure:"converter"`
	Partitioner   PartitionerConfig   `mapstructure:"partitioner"`
	Timestamp     TimestampConfig     `mapstructure:"timestamp"`
	Storage       StorageConfig       `mapstructure:"storage"`
	FileRotation  FileRotationConfig  `mapstructure:"file_rotation"`
	Processing    ProcessingConfig    `mapstructure:"processing"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	InstanceID  string `mapstructure:"instance_id"`
}

// KafkaConfig contains Kafka-related configuration
type KafkaConfig struct {
	BootstrapServers []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	AWSRegion        string         `mapstructure:"aws_region"`
	TLSSkipVerify    bool           `mapstructure:"tls_skip_verify"`
	Consumer         ConsumerConfig `mapstructure:"consumer"`
	DLQ              DLQConfig      `mapstructure:"dlq"`
}

// ConsumerConfig contains Kafka consumer configuration
type ConsumerConfig struct {
	GroupID             string   `mapstructure:"group_id"`
	Topics              []string `mapstructure:"topics"`
	AutoOffsetReset     string   `mapstructure:"auto_offset_reset"`
	EnableAutoCommit    bool     `mapstructure:"enable_auto_commit"`
	MaxPollIntervalMS   int      `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int      `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int      `mapstructure:"heartbeat_interval_ms"`
	ChannelBufferSize   int      `mapstructure:"channel_buffer_size"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// ConverterConfig configures how message values are decoded.
type ConverterConfig struct {
	SchemasEnable bool `mapstructure:"schemas_enable"`
}

// PartitionerConfig selects and configures the path encoder.
type PartitionerConfig struct {
	// Class is one of scheme, presence, field or schema.
	Class          string        `mapstructure:"class"`
	DirectoryDelim string        `mapstructure:"directory_delim"`
	FieldNames     []string      `mapstructure:"field_names"`
	Schemes        SchemesConfig `mapstructure:"schemes"`
	// UnknownSchema is "default" or "error".
	UnknownSchema string `mapstructure:"unknown_schema"`
	// TopicPrefix inserts the topic name before the encoded partition.
	TopicPrefix bool `mapstructure:"topic_prefix"`
}

// SchemesConfig lists the schema names matched by name.
type SchemesConfig struct {
	SaasUsage []string `mapstructure:"saas_usage"`
	UserEvent []string `mapstructure:"user_event"`
}

// TimestampConfig selects the record time source.
type TimestampConfig struct {
	Extractor string `mapstructure:"extractor"`
}

// StorageConfig contains storage backend configuration
type StorageConfig struct {
	Backend     string      `mapstructure:"backend"`
	Format      string      `mapstructure:"format"`
	Compression string      `mapstructure:"compression"`
	S3          S3Config    `mapstructure:"s3"`
	Azure       AzureConfig `mapstructure:"azure"`
	GCS         GCSConfig   `mapstructure:"gcs"`
	File        FileConfig  `mapstructure:"file"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	BasePath     string `mapstructure:"base_path"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	BasePath    string `mapstructure:"base_path"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	BasePath             string `mapstructure:"base_path"`
	Endpoint             string `mapstructure:"endpoint"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
	// Bucket is the first directory under BasePath.
	Bucket string `mapstructure:"bucket"`
}

// FileRotationConfig contains file rotation settings
type FileRotationConfig struct {
	MaxFileSizeMB      int64  `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int    `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int    `mapstructure:"max_duration_seconds"`
	Strategy           string `mapstructure:"strategy"`
}

// ProcessingConfig contains processing settings
type ProcessingConfig struct {
	BufferSizeMB           int `mapstructure:"buffer_size_mb"`
	BufferFlushIntervalSec int `mapstructure:"buffer_flush_interval_seconds"`
}

// RetryConfig controls retries of storage writes.
type RetryConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	InitialBackoffMS  int     `mapstructure:"initial_backoff_ms"`
	MaxBackoffMS      int     `mapstructure:"max_backoff_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port          int    `mapstructure:"port"`
	LivenessPath  string `mapstructure:"liveness_path"`
	ReadinessPath string `mapstructure:"readiness_path"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriodSeconds int `mapstructure:"grace_period_seconds"`
}

// GracePeriod returns the shutdown grace period.
func (c ShutdownConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if len(c.Kafka.BootstrapServers) == 0 {
		return fmt.Errorf("kafka bootstrap servers are required")
	}
	if c.Kafka.Consumer.GroupID == "" {
		return fmt.Errorf("kafka consumer group ID is required")
	}
	if c.Storage.Backend == "" {
		return fmt.Errorf("storage backend is required")
	}
	return c.Partitioner.Validate()
}

// Validate validates the partitioner section.
func (c *PartitionerConfig) Validate() error {
	switch c.Class {
	case "", "scheme", "presence", "schema":
	case "field":
		if len(c.FieldNames) == 0 {
			return fmt.Errorf("partitioner.field_names is required for the field partitioner")
		}
	default:
		return fmt.Errorf("unsupported partitioner class: %s", c.Class)
	}

	switch c.UnknownSchema {
	case "", "default", "error":
	default:
		return fmt.Errorf("unsupported partitioner.unknown_schema: %s", c.UnknownSchema)
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
