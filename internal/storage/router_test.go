package storage

import (
	"testing"
	"time"

	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

func TestNewRouter(t *testing.T) {
	router := NewRouter("s3", "my-bucket", "/events/", true)

	if router.protocol != "s3" {
		t.Errorf("protocol = %v, want s3", router.protocol)
	}
	if router.bucket != "my-bucket" {
		t.Errorf("bucket = %v, want my-bucket", router.bucket)
	}
	if router.basePath != "events" {
		t.Errorf("basePath = %v, want events", router.basePath)
	}
	if !router.topicPrefix {
		t.Error("topicPrefix = false, want true")
	}
}

func TestDefaultRouter_Route(t *testing.T) {
	partitionID := record.PartitionID{Topic: "metrics", Partition: 3}
	path := "customer_id=42/product_id=7/instance_id=3/year=2024/month=03/day=15"

	tests := []struct {
		name   string
		router *DefaultRouter
		path   string
		want   string
	}{
		{
			name:   "topic prefix",
			router: NewRouter("s3", "bucket", "base", true),
			path:   path,
			want:   "s3://bucket/base/metrics/" + path + "/",
		},
		{
			name:   "no topic prefix",
			router: NewRouter("s3", "bucket", "base", false),
			path:   path,
			want:   "s3://bucket/base/" + path + "/",
		},
		{
			name:   "empty base path",
			router: NewRouter("gs", "bucket", "", true),
			path:   "year=2024/month=03/day=15",
			want:   "gs://bucket/metrics/year=2024/month=03/day=15/",
		},
		{
			name:   "surrounding slashes trimmed",
			router: NewRouter("file", "data", "/base/", false),
			path:   "/year=2024/",
			want:   "file://data/base/year=2024/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.router.Route(partitionID, tt.path); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		topic     string
		partition int32
		offset    int64
		ext       string
		want      string
	}{
		{"metrics", 0, 0, ".avro", "metrics+0+0000000000.avro"},
		{"metrics", 12, 4567, ".parquet", "metrics+12+0000004567.parquet"},
		{"t", 1, 12345678901, ".avro.gz", "t+1+12345678901.avro.gz"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ObjectName(tt.topic, tt.partition, tt.offset, tt.ext); got != tt.want {
				t.Errorf("ObjectName() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObjectName_LowestOffset(t *testing.T) {
	records := []event.Record{
		{Sink: &record.SinkRecord{Topic: "m", Partition: 2, Offset: 9}},
		{Sink: &record.SinkRecord{Topic: "m", Partition: 2, Offset: 4}},
	}
	if got := objectName(records, ".avro"); got != "m+2+0000000004.avro" {
		t.Errorf("objectName() = %v", got)
	}
}

func TestSplitURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantPrefix string
	}{
		{"s3://bucket/base/metrics/year=2024/", "bucket", "base/metrics/year=2024"},
		{"gs://bucket/", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix := splitURI(tt.uri)
			if bucket != tt.wantBucket || prefix != tt.wantPrefix {
				t.Errorf("splitURI() = %q, %q; want %q, %q", bucket, prefix, tt.wantBucket, tt.wantPrefix)
			}
		})
	}
}

func TestNewPolicy(t *testing.T) {
	policy := NewPolicy(PolicyConfig{
		MaxFileSizeMB:      100,
		MaxRecordsPerFile:  1000,
		MaxDurationSeconds: 300,
		Strategy:           "composite",
	})

	if policy.maxSizeBytes != 100*1024*1024 {
		t.Errorf("maxSizeBytes = %v, want %v", policy.maxSizeBytes, 100*1024*1024)
	}
	if policy.maxRecords != 1000 {
		t.Errorf("maxRecords = %v, want 1000", policy.maxRecords)
	}
	if policy.maxDuration != 300*time.Second {
		t.Errorf("maxDuration = %v, want 5m", policy.maxDuration)
	}
}

func TestNewPolicy_Strategies(t *testing.T) {
	config := PolicyConfig{MaxFileSizeMB: 1, MaxRecordsPerFile: 10, MaxDurationSeconds: 60}

	tests := []struct {
		strategy     RotationStrategy
		wantSize     bool
		wantRecords  bool
		wantDuration bool
	}{
		{StrategyComposite, true, true, true},
		{StrategySizeOnly, true, false, false},
		{StrategyTimeOnly, false, false, true},
		{StrategyCount, false, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			c := config
			c.Strategy = string(tt.strategy)
			p := NewPolicy(c)
			if (p.maxSizeBytes > 0) != tt.wantSize || (p.maxRecords > 0) != tt.wantRecords || (p.maxDuration > 0) != tt.wantDuration {
				t.Errorf("policy = %+v", p)
			}
		})
	}
}

func TestCompositePolicy_ShouldRotate(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	policy := NewCompositePolicy(PolicyConfig{
		MaxFileSizeMB:      10,
		MaxRecordsPerFile:  100,
		MaxDurationSeconds: 60,
	})
	policy.now = func() time.Time { return now }

	tests := []struct {
		name  string
		stats event.FileStats
		want  bool
	}{
		{
			name:  "empty buffer",
			stats: event.FileStats{FirstWriteTime: now.Add(-time.Hour)},
			want:  false,
		},
		{
			name: "all under limits",
			stats: event.FileStats{
				SizeBytes:      5 * 1024 * 1024,
				RecordCount:    50,
				FirstWriteTime: now.Add(-30 * time.Second),
			},
			want: false,
		},
		{
			name: "size at limit",
			stats: event.FileStats{
				SizeBytes:      10 * 1024 * 1024,
				RecordCount:    50,
				FirstWriteTime: now.Add(-30 * time.Second),
			},
			want: true,
		},
		{
			name: "count at limit",
			stats: event.FileStats{
				SizeBytes:      5 * 1024 * 1024,
				RecordCount:    100,
				FirstWriteTime: now.Add(-30 * time.Second),
			},
			want: true,
		},
		{
			name: "duration at limit",
			stats: event.FileStats{
				RecordCount:    1,
				FirstWriteTime: now.Add(-60 * time.Second),
			},
			want: true,
		},
		{
			name: "zero first write time",
			stats: event.FileStats{
				RecordCount: 1,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ShouldRotate(tt.stats); got != tt.want {
				t.Errorf("ShouldRotate() = %v, want %v", got, tt.want)
			}
		})
	}
}
