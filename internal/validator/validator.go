// Package validator checks converted records against their schemas.
package validator

import (
	"fmt"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

var _ event.Validator = (*StructValidator)(nil)

// StructValidator validates that struct values conform to their schema.
// Non-struct values pass through untouched; the partitioner rejects them.
type StructValidator struct{}

// NewStructValidator creates a new struct validator.
func NewStructValidator() *StructValidator {
	return &StructValidator{}
}

// Validate validates rec.
func (v *StructValidator) Validate(rec *record.SinkRecord) error {
	if rec.Value == nil {
		return &errors.ValidationError{
			Field:  "value",
			Reason: "tombstone records cannot be stored",
		}
	}

	s := rec.Struct()
	if s == nil {
		return nil
	}

	schema := s.Schema()
	if schema == nil || schema.Type != record.TypeStruct {
		return &errors.ValidationError{Field: "value", Reason: "struct has no struct schema"}
	}
	if rec.ValueSchema != nil && rec.ValueSchema.Type != record.TypeStruct {
		return &errors.ValidationError{
			Field:  "value",
			Reason: fmt.Sprintf("struct value with %s schema", rec.ValueSchema.Type),
		}
	}

	return validateStruct("", s)
}

func validateStruct(prefix string, s *record.Struct) error {
	for _, f := range s.Schema().Fields {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}

		if f.Schema == nil {
			return &errors.ValidationError{Field: path, Reason: "field has no schema"}
		}

		value, _ := s.Get(f.Name)
		if value == nil {
			if !f.Schema.Optional {
				return &errors.ValidationError{Field: path, Reason: "required field is missing"}
			}
			continue
		}

		if err := validateValue(path, f.Schema, value); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, schema *record.Schema, value any) error {
	ok := true
	switch schema.Type {
	case record.TypeBoolean:
		_, ok = value.(bool)
	case record.TypeInt8:
		_, ok = value.(int8)
	case record.TypeInt16:
		_, ok = value.(int16)
	case record.TypeInt32:
		_, ok = value.(int32)
	case record.TypeInt64:
		_, ok = value.(int64)
	case record.TypeFloat:
		_, ok = value.(float32)
	case record.TypeDouble:
		_, ok = value.(float64)
	case record.TypeString:
		_, ok = value.(string)
	case record.TypeBytes:
		_, ok = value.([]byte)
	case record.TypeArray:
		_, ok = value.([]any)
	case record.TypeMap:
		_, ok = value.(map[string]any)
	case record.TypeStruct:
		nested, isStruct := value.(*record.Struct)
		if !isStruct || nested == nil || nested.Schema() == nil {
			ok = false
			break
		}
		return validateStruct(path, nested)
	default:
		return &errors.ValidationError{
			Field:  path,
			Reason: fmt.Sprintf("unknown schema type %q", schema.Type),
		}
	}

	if !ok {
		return &errors.ValidationError{
			Field:  path,
			Reason: fmt.Sprintf("expected %s, got %T", schema.Type, value),
		}
	}
	return nil
}
