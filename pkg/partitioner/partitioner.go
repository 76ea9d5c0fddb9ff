// Package partitioner defines interfaces for deriving storage partitions
// from Kafka Connect records.
//
// Implementations must be safe for concurrent use and free of I/O: the same
// record always encodes to the same partition.
package partitioner

import "github.com/jittakal/prismsink/pkg/record"

// PathEncoder derives the encoded partition of a record.
type PathEncoder interface {
	// EncodePartition returns the partition path for rec, for example
	// "customer_id=42/product_id=7/instance_id=3/year=2024/month=03/day=15".
	EncodePartition(rec *record.SinkRecord) (string, error)
}

// TimestampExtractor derives the event time of a record.
type TimestampExtractor interface {
	// Extract returns the record time in Unix milliseconds. It never fails;
	// implementations fall back to a substitute time instead.
	Extract(rec *record.SinkRecord) int64
}
