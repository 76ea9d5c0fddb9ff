package partitioner

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jittakal/prismsink/internal/errors"
	"github.com/jittakal/prismsink/pkg/partitioner"
	"github.com/jittakal/prismsink/pkg/record"
)

// Ensure implementations satisfy interfaces.
var (
	_ partitioner.PathEncoder = (*SchemePartitioner)(nil)
	_ partitioner.PathEncoder = (*PresencePartitioner)(nil)
	_ partitioner.PathEncoder = (*FieldPartitioner)(nil)
	_ partitioner.PathEncoder = (*SchemaVersionPartitioner)(nil)
)

// Partitioner classes accepted by New.
const (
	ClassScheme   = "scheme"
	ClassPresence = "presence"
	ClassField    = "field"
	ClassSchema   = "schema"
)

// Config selects and configures a partitioner.
type Config struct {
	Class      string
	Delim      string
	FieldNames []string
	Classifier ClassifierConfig
}

// New creates the partitioner named by cfg.Class.
func New(cfg Config) (partitioner.PathEncoder, error) {
	delim := cfg.Delim
	if delim == "" {
		delim = DefaultDelim
	}

	switch cfg.Class {
	case ClassScheme, "":
		classifier, err := NewClassifier(cfg.Classifier)
		if err != nil {
			return nil, fmt.Errorf("failed to create classifier: %w", err)
		}
		return NewSchemePartitioner(classifier, delim), nil
	case ClassPresence:
		return NewPresencePartitioner(delim), nil
	case ClassField:
		if len(cfg.FieldNames) == 0 {
			return nil, fmt.Errorf("field partitioner requires at least one field name")
		}
		return NewFieldPartitioner(cfg.FieldNames, delim), nil
	case ClassSchema:
		return NewSchemaVersionPartitioner(delim), nil
	default:
		return nil, fmt.Errorf("unknown partitioner class: %q", cfg.Class)
	}
}

// SchemePartitioner classifies each record and renders the scheme's fields.
type SchemePartitioner struct {
	classifier *Classifier
	delim      string
}

// NewSchemePartitioner creates a scheme partitioner.
func NewSchemePartitioner(classifier *Classifier, delim string) *SchemePartitioner {
	return &SchemePartitioner{classifier: classifier, delim: delim}
}

// EncodePartition classifies rec and encodes its partition.
func (p *SchemePartitioner) EncodePartition(rec *record.SinkRecord) (string, error) {
	path, _, err := p.EncodeWithScheme(rec)
	return path, err
}

// EncodeWithScheme is EncodePartition that also reports the scheme used.
func (p *SchemePartitioner) EncodeWithScheme(rec *record.SinkRecord) (string, Scheme, error) {
	s, ok := rec.Value.(*record.Struct)
	if !ok || s == nil {
		return "", Default, &errors.NotAStructError{Value: rec.Value}
	}

	schema := valueSchema(rec, s)
	scheme, err := p.classifier.Classify(schema)
	if err != nil {
		return "", scheme, err
	}

	path, err := Encode(s, schema, scheme, p.delim)
	return path, scheme, err
}

// PresencePartitioner picks fields by their presence in the schema:
// customer_id (else product_instance_id), product_id, instance_id when
// present, user_subscription_id (else user_oid) when present, metric_date.
type PresencePartitioner struct {
	delim string
}

// NewPresencePartitioner creates a presence partitioner.
func NewPresencePartitioner(delim string) *PresencePartitioner {
	return &PresencePartitioner{delim: delim}
}

// EncodePartition encodes the partition of rec.
func (p *PresencePartitioner) EncodePartition(rec *record.SinkRecord) (string, error) {
	s, ok := rec.Value.(*record.Struct)
	if !ok || s == nil {
		return "", &errors.NotAStructError{Value: rec.Value}
	}
	schema := valueSchema(rec, s)
	return encodeFields(s, schema, PresenceFields(schema), p.delim, true)
}

// PresenceFields returns the field list PresencePartitioner uses for schema.
func PresenceFields(schema *record.Schema) []string {
	fields := make([]string, 0, 5)

	if schema.HasFields(FieldCustomerID) {
		fields = append(fields, FieldCustomerID)
	} else if schema.HasFields(FieldProductInstanceID) {
		fields = append(fields, FieldProductInstanceID)
	}

	fields = append(fields, FieldProductID)

	if schema.HasFields(FieldInstanceID) {
		fields = append(fields, FieldInstanceID)
	}

	if schema.HasFields(FieldUserSubscriptionID) {
		fields = append(fields, FieldUserSubscriptionID)
	} else if schema.HasFields(FieldUserOID) {
		fields = append(fields, FieldUserOID)
	}

	return append(fields, FieldMetricDate)
}

// FieldPartitioner renders a fixed list of fields as name=value segments.
// Dates are not split.
type FieldPartitioner struct {
	fields []string
	delim  string
}

// NewFieldPartitioner creates a field partitioner.
func NewFieldPartitioner(fields []string, delim string) *FieldPartitioner {
	own := make([]string, len(fields))
	copy(own, fields)
	return &FieldPartitioner{fields: own, delim: delim}
}

// EncodePartition encodes the partition of rec.
func (p *FieldPartitioner) EncodePartition(rec *record.SinkRecord) (string, error) {
	s, ok := rec.Value.(*record.Struct)
	if !ok || s == nil {
		return "", &errors.NotAStructError{Value: rec.Value}
	}
	return encodeFields(s, valueSchema(rec, s), p.fields, p.delim, false)
}

// SchemaVersionPartitioner partitions by schema name and version, for
// example "schema=com.sts.HealthMetric/version=3". Underscores in the
// result become dashes.
type SchemaVersionPartitioner struct {
	delim string
}

// NewSchemaVersionPartitioner creates a schema/version partitioner.
func NewSchemaVersionPartitioner(delim string) *SchemaVersionPartitioner {
	return &SchemaVersionPartitioner{delim: delim}
}

// EncodePartition encodes the partition of rec.
func (p *SchemaVersionPartitioner) EncodePartition(rec *record.SinkRecord) (string, error) {
	schema := rec.ValueSchema
	if schema == nil {
		return "", &errors.SchemaVersionError{Reason: "record has no value schema"}
	}
	if schema.Name == "" {
		return "", &errors.SchemaVersionError{Reason: "schema has no name"}
	}
	if schema.Version <= 0 {
		return "", &errors.SchemaVersionError{Schema: schema.Name, Reason: "schema has no version"}
	}

	path := segment("schema", schema.Name) + p.delim + segment("version", strconv.Itoa(schema.Version))
	return strings.ReplaceAll(path, "_", "-"), nil
}

// valueSchema prefers the record's declared schema over the struct's own.
func valueSchema(rec *record.SinkRecord, s *record.Struct) *record.Schema {
	if rec.ValueSchema != nil {
		return rec.ValueSchema
	}
	return s.Schema()
}
