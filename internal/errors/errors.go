// Package errors provides consolidated error definitions for sensorlake.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Wrapping utilities shared by the ingestion and query paths
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Reader errors
	ErrUnsupportedSource = errors.New("unsupported data source")
	ErrMalformedHeader   = errors.New("malformed export header")

	// Writer / query schema errors
	ErrSchema         = errors.New("schema error")
	ErrSchemeMismatch = errors.New("partitioning scheme mismatch")

	// Metastore errors
	ErrCatalogConflict = errors.New("catalog conflict")
	ErrDatabase        = errors.New("database error")
	ErrStoreClosed     = errors.New("store is closed")

	// Validation errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrMissingField     = errors.New("missing required field")
)

// ============================================================================
// Helper functions
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsReaderError returns true if err originates in an export reader.
func IsReaderError(err error) bool {
	return errors.Is(err, ErrUnsupportedSource) ||
		errors.Is(err, ErrMalformedHeader)
}

// IsSchemaError returns true if err is a schema or layout violation.
func IsSchemaError(err error) bool {
	return errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrSchemeMismatch)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidTimeRange) ||
		errors.Is(err, ErrMissingField)
}

// UnsupportedSource returns an ErrUnsupportedSource naming the requested key.
func UnsupportedSource(key string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedSource, key)
}

// MalformedHeader returns an ErrMalformedHeader with detail.
func MalformedHeader(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedHeader, fmt.Sprintf(format, args...))
}

// Schema returns an ErrSchema with detail.
func Schema(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

// SchemeMismatch returns an ErrSchemeMismatch with detail.
func SchemeMismatch(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchemeMismatch, fmt.Sprintf(format, args...))
}

// CatalogConflict wraps a storage-layer duplicate-key violation.
// The catalog pre-filters incoming ids, so hitting this means the
// master table and the pre-filter disagree.
func CatalogConflict(err error) error {
	return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
}
