// Package storage implements storage routing, rotation and writers.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
	"github.com/jittakal/prismsink/pkg/storage"
)

// Ensure implementations satisfy interfaces.
var (
	_ storage.Router         = (*DefaultRouter)(nil)
	_ storage.RotationPolicy = (*CompositePolicy)(nil)
)

// OffsetPadWidth is the zero padding of the start offset in object names.
const OffsetPadWidth = 10

// DefaultRouter places files under the encoded partition of their records.
type DefaultRouter struct {
	protocol    string
	bucket      string
	basePath    string
	topicPrefix bool
}

// NewRouter creates a new storage router. With topicPrefix set, the topic
// name is inserted between the base path and the encoded partition.
func NewRouter(protocol, bucket, basePath string, topicPrefix bool) *DefaultRouter {
	return &DefaultRouter{
		protocol:    protocol,
		bucket:      bucket,
		basePath:    strings.Trim(basePath, "/"),
		topicPrefix: topicPrefix,
	}
}

// Route returns the directory for a file of partitionID records whose
// encoded partition is path.
// Format: protocol://bucket/basePath/[topic/]path/
func (r *DefaultRouter) Route(partitionID record.PartitionID, path string) string {
	segments := make([]string, 0, 3)
	if r.basePath != "" {
		segments = append(segments, r.basePath)
	}
	if r.topicPrefix {
		segments = append(segments, partitionID.Topic)
	}
	if p := strings.Trim(path, "/"); p != "" {
		segments = append(segments, p)
	}

	return fmt.Sprintf("%s://%s/%s/", r.protocol, r.bucket, strings.Join(segments, "/"))
}

// ObjectName returns the Kafka Connect style file name
// "<topic>+<partition>+<startOffset><ext>".
func ObjectName(topic string, partition int32, startOffset int64, ext string) string {
	return fmt.Sprintf("%s+%d+%0*d%s", topic, partition, OffsetPadWidth, startOffset, ext)
}

// objectName names the file holding records.
func objectName(records []event.Record, ext string) string {
	first := records[0]
	start := first.Offset()
	for _, rec := range records[1:] {
		if o := rec.Offset(); o < start {
			start = o
		}
	}
	return ObjectName(first.Sink.Topic, first.Sink.Partition, start, ext)
}

// splitURI strips the protocol and bucket from a routed directory and
// returns the bucket and key prefix.
func splitURI(uri string) (bucket, prefix string) {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	bucket, prefix, _ = strings.Cut(uri, "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewPolicy creates a new rotation policy (alias for NewCompositePolicy).
func NewPolicy(config PolicyConfig) *CompositePolicy {
	return NewCompositePolicy(config)
}

// RotationStrategy determines when to rotate files.
type RotationStrategy string

const (
	StrategyComposite RotationStrategy = "composite"
	StrategySizeOnly  RotationStrategy = "size"
	StrategyTimeOnly  RotationStrategy = "time"
	StrategyCount     RotationStrategy = "count"
)

// PolicyConfig configures rotation behavior.
type PolicyConfig struct {
	MaxFileSizeMB      int64
	MaxRecordsPerFile  int
	MaxDurationSeconds int
	Strategy           string
}

// CompositePolicy rotates when any enabled criterion is met. The strategy
// limits which criteria are enabled.
type CompositePolicy struct {
	maxSizeBytes int64
	maxRecords   int
	maxDuration  time.Duration
	now          func() time.Time
}

// NewCompositePolicy creates a new composite rotation policy.
func NewCompositePolicy(config PolicyConfig) *CompositePolicy {
	p := &CompositePolicy{
		maxSizeBytes: config.MaxFileSizeMB * 1024 * 1024,
		maxRecords:   config.MaxRecordsPerFile,
		maxDuration:  time.Duration(config.MaxDurationSeconds) * time.Second,
		now:          time.Now,
	}

	switch RotationStrategy(config.Strategy) {
	case StrategySizeOnly:
		p.maxRecords, p.maxDuration = 0, 0
	case StrategyTimeOnly:
		p.maxSizeBytes, p.maxRecords = 0, 0
	case StrategyCount:
		p.maxSizeBytes, p.maxDuration = 0, 0
	}
	return p
}

// ShouldRotate returns true if any rotation condition is met.
func (p *CompositePolicy) ShouldRotate(stats event.FileStats) bool {
	if stats.RecordCount == 0 {
		return false
	}

	if p.maxSizeBytes > 0 && stats.SizeBytes >= p.maxSizeBytes {
		return true
	}

	if p.maxRecords > 0 && stats.RecordCount >= p.maxRecords {
		return true
	}

	if p.maxDuration > 0 && !stats.FirstWriteTime.IsZero() {
		if p.now().Sub(stats.FirstWriteTime) >= p.maxDuration {
			return true
		}
	}

	return false
}
