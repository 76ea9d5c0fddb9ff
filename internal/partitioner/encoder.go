package partitioner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/record"
)

// DefaultDelim separates path segments unless configured otherwise.
const DefaultDelim = "/"

// Encode renders the partition path of value for scheme. value must be a
// *record.Struct; schema describes it and defaults to the struct's own schema
// when nil. metric_date is split into year, month and day segments.
func Encode(value any, schema *record.Schema, scheme Scheme, delim string) (string, error) {
	s, ok := value.(*record.Struct)
	if !ok || s == nil {
		return "", &errors.NotAStructError{Value: value}
	}
	if schema == nil {
		schema = s.Schema()
	}
	fields := scheme.Fields()
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: unknown partition scheme %s", errors.ErrPartition, scheme)
	}
	return encodeFields(s, schema, fields, delim, true)
}

// encodeFields resolves each field against s and joins the segments.
func encodeFields(s *record.Struct, schema *record.Schema, fields []string, delim string, splitDate bool) (string, error) {
	segments := make([]string, 0, len(fields)+2)
	for _, name := range fields {
		field, ok := schema.Field(name)
		if !ok {
			return "", &errors.MissingFieldError{Field: name}
		}

		value, _ := s.Get(name)
		if value == nil {
			return "", &errors.NullFieldError{Field: name}
		}

		segs, err := renderField(name, field.Schema, value, splitDate)
		if err != nil {
			return "", err
		}
		segments = append(segments, segs...)
	}
	return strings.Join(segments, delim), nil
}

// renderField formats a single non-nil field value as one or more segments.
func renderField(name string, fieldSchema *record.Schema, value any, splitDate bool) ([]string, error) {
	if fieldSchema == nil {
		return nil, &errors.UnsupportedTypeError{Field: name, Type: "<nil>"}
	}

	switch fieldSchema.Type.Category() {
	case record.CategoryInt:
		n, ok := integerString(value)
		if !ok {
			return nil, mismatch(name, fieldSchema, value)
		}
		return []string{segment(name, n)}, nil

	case record.CategoryBool:
		b, ok := value.(bool)
		if !ok {
			return nil, mismatch(name, fieldSchema, value)
		}
		return []string{segment(name, strconv.FormatBool(b))}, nil

	case record.CategoryString:
		str, ok := value.(string)
		if !ok {
			return nil, mismatch(name, fieldSchema, value)
		}
		if splitDate && name == FieldMetricDate {
			return dateSegments(str)
		}
		return []string{segment(name, str)}, nil

	default:
		return nil, &errors.UnsupportedTypeError{Field: name, Type: string(fieldSchema.Type)}
	}
}

// dateSegments splits a YYYY-MM-DD shaped value. Only the first ten
// characters are used; the separators at positions 4 and 7 are not checked.
func dateSegments(value string) ([]string, error) {
	if len(value) < 10 {
		return nil, &errors.MalformedDateError{Value: value}
	}
	for _, i := range [...]int{0, 1, 2, 3, 5, 6, 8, 9} {
		if value[i] < '0' || value[i] > '9' {
			return nil, &errors.MalformedDateError{Value: value}
		}
	}
	return []string{
		segment("year", value[0:4]),
		segment("month", value[5:7]),
		segment("day", value[8:10]),
	}, nil
}

func segment(name, value string) string {
	return name + "=" + value
}

func integerString(value any) (string, bool) {
	switch n := value.(type) {
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int:
		return strconv.Itoa(n), true
	default:
		return "", false
	}
}

func mismatch(name string, fieldSchema *record.Schema, value any) error {
	return &errors.UnsupportedTypeError{
		Field: name,
		Type:  fmt.Sprintf("%s holding %T", fieldSchema.Type, value),
	}
}
