// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"

	"github.com/jittakal/prismsink/pkg/record"
)

// Sentinel errors for common conditions.
var (
	ErrBufferFull      = errors.New("buffer is full")
	ErrConsumerClosed  = errors.New("consumer is closed")
	ErrPublisherClosed = errors.New("dlq publisher is closed")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrWriterClosed    = errors.New("storage writer is closed")
	ErrConnectionLost  = errors.New("connection lost")

	// ErrPartition is wrapped by every partition-key error.
	ErrPartition = errors.New("error encoding partition")
)

// NotAStructError is returned when a record value has no field structure.
type NotAStructError struct {
	Value any
}

func (e *NotAStructError) Error() string {
	return fmt.Sprintf("%v: value is not a struct (got %T)", ErrPartition, e.Value)
}

func (e *NotAStructError) Unwrap() error { return ErrPartition }

// MissingFieldError is returned when a scheme field is absent from the schema.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%v: field %q not found in schema", ErrPartition, e.Field)
}

func (e *MissingFieldError) Unwrap() error { return ErrPartition }

// NullFieldError is returned when a scheme field has no value.
type NullFieldError struct {
	Field string
}

func (e *NullFieldError) Error() string {
	return fmt.Sprintf("%v: field %q is null", ErrPartition, e.Field)
}

func (e *NullFieldError) Unwrap() error { return ErrPartition }

// MalformedDateError is returned when metric_date is not YYYY-MM-DD shaped.
type MalformedDateError struct {
	Value string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("%v: malformed date %q, want YYYY-MM-DD", ErrPartition, e.Value)
}

func (e *MalformedDateError) Unwrap() error { return ErrPartition }

// UnsupportedTypeError is returned when a field type cannot be a partition key.
type UnsupportedTypeError struct {
	Field string
	Type  string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%v: type %s of field %q is not supported as a partition key",
		ErrPartition, e.Type, e.Field)
}

func (e *UnsupportedTypeError) Unwrap() error { return ErrPartition }

// UnknownSchemaError is returned by a strict classifier for unmatched schemas.
type UnknownSchemaError struct {
	Schema string
}

func (e *UnknownSchemaError) Error() string {
	return fmt.Sprintf("%v: no partition scheme for schema %q", ErrPartition, e.Schema)
}

func (e *UnknownSchemaError) Unwrap() error { return ErrPartition }

// SchemaVersionError is returned when a schema lacks the name or version
// needed by the schema/version partitioner.
type SchemaVersionError struct {
	Schema string
	Reason string
}

func (e *SchemaVersionError) Error() string {
	return fmt.Sprintf("%v: schema %q: %s", ErrPartition, e.Schema, e.Reason)
}

func (e *SchemaVersionError) Unwrap() error { return ErrPartition }

// ProcessingError represents a failure while handling a single record.
type ProcessingError struct {
	PartitionID record.PartitionID
	Offset      int64
	Stage       string
	Err         error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing error: partition=%s offset=%d stage=%s: %v",
		e.PartitionID, e.Offset, e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ConversionError represents a message that could not be converted to
// Connect data.
type ConversionError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversion error: topic=%s: %s: %v", e.Topic, e.Reason, e.Err)
	}
	return fmt.Sprintf("conversion error: topic=%s: %s", e.Topic, e.Reason)
}

func (e *ConversionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidRecord
}

// ValidationError represents a struct that does not conform to its schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field=%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRecord
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// Partition and validation errors are never retryable; the record is routed
// to the dead letter queue instead.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrPartition) || errors.Is(err, ErrInvalidRecord) {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	return errors.Is(err, ErrConnectionLost)
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// IsRetryable determines if a ProcessingError is retryable.
func (e *ProcessingError) IsRetryable() bool {
	return IsRetryable(e.Err)
}

// Kind returns a short label for partition errors, used as a metric label.
func Kind(err error) string {
	var (
		notStruct   *NotAStructError
		missing     *MissingFieldError
		null        *NullFieldError
		date        *MalformedDateError
		unsupported *UnsupportedTypeError
		unknown     *UnknownSchemaError
		version     *SchemaVersionError
		conversion  *ConversionError
		validation  *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &notStruct):
		return "not_a_struct"
	case errors.As(err, &missing):
		return "missing_field"
	case errors.As(err, &null):
		return "null_field"
	case errors.As(err, &date):
		return "malformed_date"
	case errors.As(err, &unsupported):
		return "unsupported_type"
	case errors.As(err, &unknown):
		return "unknown_schema"
	case errors.As(err, &version):
		return "schema_version"
	case errors.As(err, &conversion):
		return "conversion"
	case errors.As(err, &validation):
		return "validation"
	default:
		return "other"
	}
}
