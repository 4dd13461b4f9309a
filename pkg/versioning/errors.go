package versioning

import "errors"

var (
	// ErrInvalidSchema is returned when a schema description fails validation
	ErrInvalidSchema = errors.New("invalid entity schema")
	// ErrSchemaConflict is returned when a schema cannot be mirrored without ambiguity
	ErrSchemaConflict = errors.New("schema conflict")
	// ErrUnknownEntityType is returned for entity types that were never registered
	ErrUnknownEntityType = errors.New("unknown entity type")

	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid field value")

	ErrNotFound      = errors.New("entity not found")
	ErrNotPersisted  = errors.New("entity was never persisted")
	ErrEntityDeleted = errors.New("entity is deleted")

	// ErrWriteConflict reports a concurrent modification of the same entity version.
	// The session is rolled back and the caller may retry.
	ErrWriteConflict = errors.New("write conflict")

	ErrTxDone = errors.New("session already committed or rolled back")
)

// IsWriteConflict reports whether err is a retryable write conflict
func IsWriteConflict(err error) bool {
	return errors.Is(err, ErrWriteConflict)
}

// IsValidation reports whether err was caused by invalid input rather than storage state
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnknownField) || errors.Is(err, ErrInvalidValue) || errors.Is(err, ErrNotPersisted)
}
