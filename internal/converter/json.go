// Package converter turns Kafka message values into Kafka Connect data.
package converter

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/event"
	"github.com/jittakal/prismsink/pkg/record"
)

// Ensure implementation satisfies interfaces at compile time.
var _ event.Converter = (*JSONConverter)(nil)

// envelope is the Kafka Connect JSON format with schemas enabled.
type envelope struct {
	Schema  json.RawMessage `json:"schema"`
	Payload json.RawMessage `json:"payload"`
}

// wireSchema is a Kafka Connect JSON schema.
type wireSchema struct {
	Type     record.Type  `json:"type"`
	Optional bool         `json:"optional,omitempty"`
	Name     string       `json:"name,omitempty"`
	Version  int          `json:"version,omitempty"`
	Doc      string       `json:"doc,omitempty"`
	Items    *wireSchema  `json:"items,omitempty"`
	Keys     *wireSchema  `json:"keys,omitempty"`
	Values   *wireSchema  `json:"values,omitempty"`
	Fields   []wireSchema `json:"fields,omitempty"`
	Field    string       `json:"field,omitempty"`
}

// JSONConverter decodes values written by the Kafka Connect JsonConverter.
//
// With schemas enabled every value must be an envelope of the form
// {"schema": {...}, "payload": ...}; the payload is converted against the
// schema so struct values become *record.Struct. With schemas disabled values
// are decoded as plain JSON and carry no schema.
type JSONConverter struct {
	schemasEnable bool
}

// NewJSONConverter creates a JSON converter.
func NewJSONConverter(schemasEnable bool) *JSONConverter {
	return &JSONConverter{schemasEnable: schemasEnable}
}

// ToSinkRecord converts msg. An empty value is a tombstone and converts to a
// record with a nil value.
func (c *JSONConverter) ToSinkRecord(msg *event.ConsumedMessage) (*record.SinkRecord, error) {
	md := msg.Metadata
	rec := &record.SinkRecord{
		Topic:     md.Topic,
		Partition: md.Partition,
		Offset:    md.Offset,
		Key:       md.Key,
		Timestamp: md.Timestamp,
		Headers:   md.Headers,
	}

	if len(bytes.TrimSpace(msg.Value)) == 0 {
		return rec, nil
	}

	if !c.schemasEnable {
		v, err := decode(msg.Value)
		if err != nil {
			return nil, &errors.ConversionError{Topic: md.Topic, Reason: "invalid JSON", Err: err}
		}
		rec.Value = v
		return rec, nil
	}

	schema, value, err := c.fromEnvelope(msg.Value)
	if err != nil {
		return nil, &errors.ConversionError{Topic: md.Topic, Reason: "invalid envelope", Err: err}
	}
	rec.ValueSchema = schema
	rec.Value = value
	return rec, nil
}

func (c *JSONConverter) fromEnvelope(data []byte) (*record.Schema, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, err
	}
	if len(env.Schema) == 0 || env.Payload == nil {
		return nil, nil, fmt.Errorf("schemas enabled but value is not a {schema, payload} envelope")
	}

	if bytes.Equal(bytes.TrimSpace(env.Schema), []byte("null")) {
		payload, err := decode(env.Payload)
		return nil, payload, err
	}

	var ws wireSchema
	if err := json.Unmarshal(env.Schema, &ws); err != nil {
		return nil, nil, fmt.Errorf("schema: %w", err)
	}
	schema, err := toSchema(&ws)
	if err != nil {
		return nil, nil, err
	}

	payload, err := decode(env.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("payload: %w", err)
	}
	value, err := convert(schema, payload, "payload")
	if err != nil {
		return nil, nil, err
	}
	return schema, value, nil
}

// decode unmarshals JSON keeping numbers as json.Number so 64-bit integers
// survive.
func decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func toSchema(ws *wireSchema) (*record.Schema, error) {
	if !ws.Type.Valid() {
		return nil, fmt.Errorf("unknown schema type %q", ws.Type)
	}

	s := &record.Schema{
		Type:     ws.Type,
		Name:     ws.Name,
		Version:  ws.Version,
		Optional: ws.Optional,
		Doc:      ws.Doc,
	}

	var err error
	switch ws.Type {
	case record.TypeStruct:
		for i := range ws.Fields {
			f := &ws.Fields[i]
			if f.Field == "" {
				return nil, fmt.Errorf("struct %q: field %d has no name", ws.Name, i)
			}
			fs, err := toSchema(f)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Field, err)
			}
			s.WithField(f.Field, fs)
		}
	case record.TypeArray:
		if ws.Items == nil {
			return nil, fmt.Errorf("array schema without items")
		}
		if s.Items, err = toSchema(ws.Items); err != nil {
			return nil, err
		}
	case record.TypeMap:
		if ws.Keys == nil || ws.Values == nil {
			return nil, fmt.Errorf("map schema without keys or values")
		}
		if s.Keys, err = toSchema(ws.Keys); err != nil {
			return nil, err
		}
		if s.Values, err = toSchema(ws.Values); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// convert maps a decoded JSON value onto schema.
func convert(schema *record.Schema, v any, path string) (any, error) {
	if v == nil {
		if schema.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: null value for required %s", path, schema.Type)
	}

	switch schema.Type {
	case record.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		return b, nil

	case record.TypeInt8, record.TypeInt16, record.TypeInt32, record.TypeInt64:
		n, ok := v.(json.Number)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return narrow(schema.Type, i, path)

	case record.TypeFloat, record.TypeDouble:
		n, ok := v.(json.Number)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if schema.Type == record.TypeFloat {
			return float32(f), nil
		}
		return f, nil

	case record.TypeString:
		str, ok := v.(string)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		return str, nil

	case record.TypeBytes:
		str, ok := v.(string)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		b, err := base64.StdEncoding.DecodeString(str)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return b, nil

	case record.TypeArray:
		items, ok := v.([]any)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			c, err := convert(schema.Items, item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil

	case record.TypeMap:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		out := make(map[string]any, len(obj))
		for k, item := range obj {
			c, err := convert(schema.Values, item, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil

	case record.TypeStruct:
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, typeError(path, schema, v)
		}
		s := record.NewStruct(schema)
		for _, f := range schema.Fields {
			c, err := convert(f.Schema, obj[f.Name], path+"."+f.Name)
			if err != nil {
				return nil, err
			}
			s.Put(f.Name, c)
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%s: unsupported schema type %q", path, schema.Type)
	}
}

func narrow(t record.Type, i int64, path string) (any, error) {
	switch t {
	case record.TypeInt8:
		if i < math.MinInt8 || i > math.MaxInt8 {
			return nil, fmt.Errorf("%s: %d overflows int8", path, i)
		}
		return int8(i), nil
	case record.TypeInt16:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, fmt.Errorf("%s: %d overflows int16", path, i)
		}
		return int16(i), nil
	case record.TypeInt32:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%s: %d overflows int32", path, i)
		}
		return int32(i), nil
	default:
		return i, nil
	}
}

func typeError(path string, schema *record.Schema, v any) error {
	return fmt.Errorf("%s: expected %s, got %T", path, schema.Type, v)
}
