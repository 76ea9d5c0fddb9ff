// Package record defines the Kafka Connect data model used by partitioners.
//
// A SinkRecord carries a value and the schema describing it. Structured values
// are *Struct instances whose schema has Type TypeStruct; anything else (a bare
// scalar, nil, a map without schema) is treated as unstructured.
package record

import "fmt"

// Type is a Kafka Connect schema type.
type Type string

const (
	TypeBoolean Type = "boolean"
	TypeInt8    Type = "int8"
	TypeInt16   Type = "int16"
	TypeInt32   Type = "int32"
	TypeInt64   Type = "int64"
	TypeFloat   Type = "float"
	TypeDouble  Type = "double"
	TypeBytes   Type = "bytes"
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeMap     Type = "map"
	TypeStruct  Type = "struct"
)

// Category groups schema types by how they render as partition values.
type Category int

const (
	CategoryUnsupported Category = iota
	CategoryInt
	CategoryString
	CategoryBool
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryInt:
		return "int"
	case CategoryString:
		return "string"
	case CategoryBool:
		return "bool"
	default:
		return "unsupported"
	}
}

// Category returns the partition rendering category of t.
func (t Type) Category() Category {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return CategoryInt
	case TypeString:
		return CategoryString
	case TypeBoolean:
		return CategoryBool
	default:
		return CategoryUnsupported
	}
}

// IsPrimitive reports whether t has no nested schemas.
func (t Type) IsPrimitive() bool {
	switch t {
	case TypeArray, TypeMap, TypeStruct:
		return false
	default:
		return true
	}
}

// Valid reports whether t is a known Kafka Connect type.
func (t Type) Valid() bool {
	switch t {
	case TypeBoolean, TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeFloat, TypeDouble, TypeBytes, TypeString,
		TypeArray, TypeMap, TypeStruct:
		return true
	default:
		return false
	}
}

// Field is a named member of a struct schema.
type Field struct {
	Name   string
	Index  int
	Schema *Schema
}

// Schema describes a Kafka Connect value.
type Schema struct {
	Type     Type
	Name     string
	Version  int // 0 when unset
	Optional bool
	Doc      string

	// Type: Struct
	Fields []Field
	// Type: Array
	Items *Schema
	// Type: Map
	Keys   *Schema
	Values *Schema
}

// Primitive returns a required schema of type t.
func Primitive(t Type) *Schema {
	return &Schema{Type: t}
}

// OptionalPrimitive returns an optional schema of type t.
func OptionalPrimitive(t Type) *Schema {
	return &Schema{Type: t, Optional: true}
}

// NewStructSchema returns an empty struct schema with the given name.
func NewStructSchema(name string) *Schema {
	return &Schema{Type: TypeStruct, Name: name}
}

// WithField appends a field and returns s for chaining.
func (s *Schema) WithField(name string, fieldSchema *Schema) *Schema {
	s.Fields = append(s.Fields, Field{
		Name:   name,
		Index:  len(s.Fields),
		Schema: fieldSchema,
	})
	return s
}

// WithVersion sets the schema version and returns s for chaining.
func (s *Schema) WithVersion(version int) *Schema {
	s.Version = version
	return s
}

// Field looks up a struct field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasFields reports whether every name is a field of s.
func (s *Schema) HasFields(names ...string) bool {
	for _, name := range names {
		if _, ok := s.Field(name); !ok {
			return false
		}
	}
	return true
}

// String returns a short description such as "struct com.sts.HealthMetric v2".
func (s *Schema) String() string {
	if s == nil {
		return "<nil schema>"
	}
	out := string(s.Type)
	if s.Name != "" {
		out += " " + s.Name
	}
	if s.Version > 0 {
		out += fmt.Sprintf(" v%d", s.Version)
	}
	return out
}
