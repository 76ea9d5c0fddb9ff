// Package storage defines interfaces for record storage.
//
// Writers put encoded files on a backend (S3, GCS, Azure Blob, local
// filesystem); routers decide where each file goes.
package storage

import (
	"context"

	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// Writer writes record files to storage.
type Writer interface {
	// Write encodes records as one file under dir and returns the number
	// of bytes written.
	Write(ctx context.Context, records []event.Record, dir string, format event.FileFormat) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines the storage directory of a record file.
type Router interface {
	// Route returns the directory for records of partitionID whose encoded
	// partition is path.
	Route(partitionID record.PartitionID, path string) string
}

// RotationPolicy determines when to rotate (flush) buffered records to storage.
type RotationPolicy interface {
	// ShouldRotate returns true if the buffer should be flushed based on stats.
	ShouldRotate(stats event.FileStats) bool
}
