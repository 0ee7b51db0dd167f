package database

import (
	"errors"

	"github.com/mnohosten/streamhub/pkg/index"
	"github.com/mnohosten/streamhub/pkg/query"
)

var (
	// ErrDocumentNotFound is returned when a document is not found
	ErrDocumentNotFound = errors.New("document not found")

	// ErrCollectionNotFound is returned when a collection is not found
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrIndexNotFound is returned when dropping an unknown index
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned when an index name is reused with different keys
	ErrIndexExists = errors.New("index already exists with different options")

	// ErrDatabaseClosed is returned when operating on a closed database
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrConstraintViolation is returned when a write or index build would
	// break a unique index. The concrete error is an *index.DuplicateKeyError.
	ErrConstraintViolation = index.ErrDuplicateKey

	// ErrInvalidExpression is returned for malformed filters, updates,
	// pipelines and index keys
	ErrInvalidExpression = query.ErrInvalidExpression
)

// IsNotFound reports whether err belongs to the not-found family
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrCollectionNotFound) ||
		errors.Is(err, ErrIndexNotFound)
}
