package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Consumer metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	RebalanceDuration  *prometheus.HistogramVec
	PartitionsAssigned *prometheus.GaugeVec
	CommitLatency      *prometheus.HistogramVec

	// Processing metrics
	RecordsProcessed   *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	BufferSize         *prometheus.GaugeVec
	BufferRecordCount  *prometheus.GaugeVec
	PartitionKeys      *prometheus.CounterVec
	PartitionErrors    *prometheus.CounterVec
	TimestampFallbacks *prometheus.CounterVec
	DLQMessages        *prometheus.CounterVec
	WriteRetries       *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Consumer metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		RebalanceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_rebalance_duration_seconds",
				Help:    "Duration of consumer group rebalances",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		CommitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kafka_commit_latency_seconds",
				Help:    "Latency of offset commit operations",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"topic", "partition"},
		),

		// Processing metrics
		RecordsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_processed_total",
				Help: "Total number of records processed",
			},
			[]string{"topic", "partition", "status"},
		),
		ProcessingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "processing_duration_seconds",
				Help:    "Duration of record processing stages",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "stage"},
		),
		BufferSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_size_bytes",
				Help: "Bytes held in open buffers",
			},
			[]string{"topic", "partition"},
		),
		BufferRecordCount: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "buffer_record_count",
				Help: "Records held in open buffers",
			},
			[]string{"topic", "partition"},
		),
		PartitionKeys: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partition_keys_encoded_total",
				Help: "Total number of partition paths encoded, by scheme",
			},
			[]string{"scheme"},
		),
		PartitionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "partition_errors_total",
				Help: "Total number of records the partitioner rejected, by error kind",
			},
			[]string{"kind"},
		),
		TimestampFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timestamp_fallbacks_total",
				Help: "Records whose event time fell back to the wall clock",
			},
			[]string{"topic"},
		),
		DLQMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlq_messages_total",
				Help: "Total number of messages routed to the dead letter queue",
			},
			[]string{"topic", "stage"},
		),
		WriteRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_write_retries_total",
				Help: "Total number of retried storage writes",
			},
			[]string{"topic"},
		),

		// Storage metrics
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"topic", "partition", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic", "partition"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"topic", "partition", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

func partitionLabel(partition int32) string {
	return strconv.FormatInt(int64(partition), 10)
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, partitionLabel(partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// ObserveRebalanceDuration observes rebalance duration.
func (m *Metrics) ObserveRebalanceDuration(groupID string, duration float64) {
	m.RebalanceDuration.WithLabelValues(groupID).Observe(duration)
}

// ObserveCommitLatency observes commit latency.
func (m *Metrics) ObserveCommitLatency(topic string, partition int32, duration float64) {
	m.CommitLatency.WithLabelValues(topic, partitionLabel(partition)).Observe(duration)
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncRecordsProcessed counts a record leaving the pipeline with status
// buffered, dlq or dropped.
func (m *Metrics) IncRecordsProcessed(topic string, partition int32, status string) {
	m.RecordsProcessed.WithLabelValues(topic, partitionLabel(partition), status).Inc()
}

// ObserveProcessingDuration observes the duration of one pipeline stage.
func (m *Metrics) ObserveProcessingDuration(topic, stage string, duration float64) {
	m.ProcessingDuration.WithLabelValues(topic, stage).Observe(duration)
}

// SetBufferUsage sets the buffered bytes and records of a partition.
func (m *Metrics) SetBufferUsage(topic string, partition int32, bytes int64, records int) {
	label := partitionLabel(partition)
	m.BufferSize.WithLabelValues(topic, label).Set(float64(bytes))
	m.BufferRecordCount.WithLabelValues(topic, label).Set(float64(records))
}

// IncPartitionKeys counts an encoded partition path.
func (m *Metrics) IncPartitionKeys(scheme string) {
	m.PartitionKeys.WithLabelValues(scheme).Inc()
}

// IncPartitionErrors counts a partitioner failure.
func (m *Metrics) IncPartitionErrors(kind string) {
	m.PartitionErrors.WithLabelValues(kind).Inc()
}

// IncTimestampFallbacks counts a wall clock fallback.
func (m *Metrics) IncTimestampFallbacks(topic string) {
	m.TimestampFallbacks.WithLabelValues(topic).Inc()
}

// IncDLQMessages counts a dead-lettered message.
func (m *Metrics) IncDLQMessages(topic, stage string) {
	m.DLQMessages.WithLabelValues(topic, stage).Inc()
}

// IncWriteRetries counts a retried storage write.
func (m *Metrics) IncWriteRetries(topic string) {
	m.WriteRetries.WithLabelValues(topic).Inc()
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(topic string, partition int32, format string, status string) {
	m.FilesWritten.WithLabelValues(topic, partitionLabel(partition), format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(topic string, partition int32, format string, size float64) {
	m.FileSize.WithLabelValues(topic, partitionLabel(partition), format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(topic string, partition int32, duration float64) {
	m.StorageWriteDuration.WithLabelValues(topic, partitionLabel(partition)).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}
