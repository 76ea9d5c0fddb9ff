// Package buffer implements record buffering for batch writes.
package buffer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/buffer"
	"github.com/jittakal/prismsink/pkg/event"
)

// Ensure implementations satisfy interfaces at compile time.
var (
	_ buffer.Buffer  = (*FileBuffer)(nil)
	_ buffer.Manager = (*Manager)(nil)
)

// FileBuffer buffers the records of one output file: a single Kafka
// partition and encoded storage partition. It is safe for concurrent use.
// First and last write times and the lowest offset are tracked for rotation
// and file naming.
type FileBuffer struct {
	key            buffer.Key
	records        []event.Record
	maxSizeBytes   int64
	maxRecords     int
	currentSize    int64
	startOffset    int64
	firstWriteTime time.Time
	lastWriteTime  time.Time
	now            func() time.Time
	mu             sync.RWMutex
}

// New creates a new file buffer.
func New(key buffer.Key, maxSizeBytes int64, maxRecords int) *FileBuffer {
	return &FileBuffer{
		key:          key,
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
		startOffset:  -1,
		now:          time.Now,
	}
}

// Key returns the key of the buffer.
func (b *FileBuffer) Key() buffer.Key {
	return b.key
}

// Add adds a record to the buffer.
func (b *FileBuffer) Add(rec event.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordSize := int64(estimateSize(rec))

	if b.maxRecords > 0 && len(b.records) >= b.maxRecords {
		return fmt.Errorf("%w: max records (%d) reached", errors.ErrBufferFull, b.maxRecords)
	}

	if b.maxSizeBytes > 0 && b.currentSize+recordSize > b.maxSizeBytes {
		return fmt.Errorf("%w: max size (%d bytes) would be exceeded", errors.ErrBufferFull, b.maxSizeBytes)
	}

	b.records = append(b.records, rec)
	b.currentSize += recordSize

	if offset := rec.Offset(); b.startOffset < 0 || offset < b.startOffset {
		b.startOffset = offset
	}

	now := b.now()
	if b.firstWriteTime.IsZero() {
		b.firstWriteTime = now
	}
	b.lastWriteTime = now

	return nil
}

// Drain removes and returns all records from the buffer.
// The returned slice is owned by the caller.
func (b *FileBuffer) Drain() []event.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	records := b.records
	b.reset()
	return records
}

// Records returns a copy of the buffered records. The buffer is unchanged.
func (b *FileBuffer) Records() []event.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]event.Record, len(b.records))
	copy(out, b.records)
	return out
}

// Stats returns current buffer statistics.
func (b *FileBuffer) Stats() event.FileStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return event.FileStats{
		RecordCount:    len(b.records),
		SizeBytes:      b.currentSize,
		FirstWriteTime: b.firstWriteTime,
		LastWriteTime:  b.lastWriteTime,
		StartOffset:    b.startOffset,
	}
}

// IsEmpty returns true if the buffer is empty.
func (b *FileBuffer) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records) == 0
}

// Reset clears the buffer and resets all statistics.
func (b *FileBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *FileBuffer) reset() {
	b.records = nil
	b.currentSize = 0
	b.startOffset = -1
	b.firstWriteTime = time.Time{}
	b.lastWriteTime = time.Time{}
}

// estimateSize estimates the size of a record in bytes.
func estimateSize(rec event.Record) int {
	size := int(rec.Size())
	size += len(rec.Path)

	if rec.Sink != nil {
		size += len(rec.Sink.Topic)
		size += len(rec.Sink.Key)
		for k, v := range rec.Sink.Headers {
			size += len(k) + len(v)
		}
	}

	return size
}

// Manager manages buffers per output file key.
// Buffers are created on demand using double-checked locking.
type Manager struct {
	buffers      map[buffer.Key]*FileBuffer
	maxSizeBytes int64
	maxRecords   int
	mu           sync.RWMutex
}

// NewManager creates a new buffer manager.
func NewManager(maxSizeBytes int64, maxRecords int) *Manager {
	return &Manager{
		buffers:      make(map[buffer.Key]*FileBuffer),
		maxSizeBytes: maxSizeBytes,
		maxRecords:   maxRecords,
	}
}

// GetOrCreate returns the buffer for key, creating it if needed.
func (m *Manager) GetOrCreate(key buffer.Key) buffer.Buffer {
	m.mu.RLock()
	buf, exists := m.buffers[key]
	m.mu.RUnlock()

	if exists {
		return buf
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if buf, exists := m.buffers[key]; exists {
		return buf
	}

	buf = New(key, m.maxSizeBytes, m.maxRecords)
	m.buffers[key] = buf
	return buf
}

// Keys returns the keys of all buffers, sorted for deterministic flushing.
func (m *Manager) Keys() []buffer.Key {
	m.mu.RLock()
	keys := make([]buffer.Key, 0, len(m.buffers))
	for k := range m.buffers {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Remove drops the buffer for key.
func (m *Manager) Remove(key buffer.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buffers, key)
}
