package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCollectionNotFound is returned by collaborators that do not know a collection.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrSegmentNotFound is returned when a segment lookup has no result.
	ErrSegmentNotFound = errors.New("segment not found")
)

// ValidationError is a custom error type for validation failures.
type ValidationError struct {
	Message string
	Field   string // e.g., "id", "collection_id"
	Value   string // The invalid value
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s '%s': %s", e.Field, e.Value, e.Message)
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var validationError *ValidationError
	return errors.As(err, &validationError)
}

// ValidateRecord checks the fields every pipeline stage relies on.
func ValidateRecord(r *EmbeddingRecord) error {
	if r == nil {
		return &ValidationError{Field: "record", Message: "record is nil"}
	}
	if r.ID == "" {
		return &ValidationError{Field: "id", Value: r.ID, Message: "record id must not be empty"}
	}
	if r.CollectionID == "" {
		return &ValidationError{Field: "collection_id", Value: r.CollectionID, Message: "collection id must not be empty"}
	}
	return nil
}
