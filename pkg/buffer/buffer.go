// Package buffer defines interfaces for record buffering.
//
// Records are batched per output file before being written to storage.
package buffer

import (
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// Key identifies one output file stream: a Kafka partition and an encoded
// storage partition.
type Key struct {
	Partition record.PartitionID
	Path      string
}

// String returns "topic-partition:path".
func (k Key) String() string {
	return k.Partition.String() + ":" + k.Path
}

// Buffer manages buffering of records before storage.
// All implementations must be thread-safe.
type Buffer interface {
	// Add adds a record to the buffer.
	// Returns an error if the buffer is full or capacity would be exceeded.
	Add(rec event.Record) error

	// Drain removes and returns all records from the buffer.
	Drain() []event.Record

	// Records returns a copy of the buffered records without removing them.
	Records() []event.Record

	// Stats returns current buffer statistics without modifying the buffer.
	Stats() event.FileStats

	// IsEmpty returns true if the buffer contains no records.
	IsEmpty() bool

	// Reset clears the buffer and resets all statistics.
	Reset()
}

// Manager creates and manages buffers per key.
type Manager interface {
	// GetOrCreate returns the buffer for key, creating one if needed.
	GetOrCreate(key Key) Buffer

	// Keys returns the keys of all buffers currently held.
	Keys() []Key

	// Remove drops the buffer for key.
	Remove(key Key)
}
