package index

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when inserting a duplicate key in a unique index
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidKeys is returned for malformed index key specifications
	ErrInvalidKeys = errors.New("invalid index keys")
)

// DuplicateKeyError reports which unique index rejected a write and the
// conflicting key tuple
type DuplicateKeyError struct {
	Index string
	Key   []interface{}
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in unique index %s: %v", e.Index, e.Key)
}

// Unwrap lets errors.Is(err, ErrDuplicateKey) succeed
func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}
