package record

import (
	"fmt"
	"time"
)

// Struct is a structured value conforming to a struct schema.
// A Struct is built once with Put and treated as read-only afterwards.
type Struct struct {
	schema *Schema
	values map[string]any
}

// NewStruct creates an empty struct for schema.
func NewStruct(schema *Schema) *Struct {
	return &Struct{
		schema: schema,
		values: make(map[string]any, len(schema.Fields)),
	}
}

// Put sets a field value and returns s for chaining.
func (s *Struct) Put(name string, value any) *Struct {
	s.values[name] = value
	return s
}

// Get returns the value of a field. A field that was never set returns
// (nil, false); a field explicitly set to nil returns (nil, true).
func (s *Struct) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Schema returns the schema of s.
func (s *Struct) Schema() *Schema {
	return s.schema
}

// Len returns the number of values set.
func (s *Struct) Len() int {
	return len(s.values)
}

// Map converts s to a plain map, recursing into nested structs.
func (s *Struct) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch t := v.(type) {
	case *Struct:
		return t.Map()
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = plain(item)
		}
		return items
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, item := range t {
			m[k] = plain(item)
		}
		return m
	default:
		return v
	}
}

// PartitionID uniquely identifies a Kafka partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// SinkRecord is a single Kafka message converted to Connect data.
type SinkRecord struct {
	Topic       string
	Partition   int32
	Offset      int64
	Key         []byte
	Value       any
	ValueSchema *Schema
	Timestamp   time.Time
	Headers     map[string]string
}

// PartitionID returns the Kafka partition the record was read from.
func (r *SinkRecord) PartitionID() PartitionID {
	return PartitionID{Topic: r.Topic, Partition: r.Partition}
}

// Struct returns the value as a *Struct, or nil when the value is not
// structured.
func (r *SinkRecord) Struct() *Struct {
	s, _ := r.Value.(*Struct)
	return s
}
