package database

import (
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
)

// QueryOptions holds options for queries. Sort and Projection use the
// same ordered documents as the $sort and $project stages.
type QueryOptions struct {
	Projection *document.Document
	Sort       *document.Document
	Limit      int
	Skip       int
}

// IndexOptions holds options for CreateIndex
type IndexOptions struct {
	Name   string
	Unique bool
}

// IndexInfo describes a registered index
type IndexInfo struct {
	Name   string
	Keys   *document.Document
	Unique bool
}

// Operation names a committed write
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationDrop   Operation = "drop"
)

// ChangeEvent describes one committed write to one document, or the drop
// of a whole collection
type ChangeEvent struct {
	Operation  Operation
	Collection string
	DocumentID interface{}
	// Document is the document after the write; nil for deletes
	Document *document.Document
	// UpdatedFields lists the paths an update wrote
	UpdatedFields []string
	Time          time.Time
}

// ChangeListener receives change events. It is called synchronously while
// the written document is still locked, so it must not block or call back
// into the collection.
type ChangeListener func(ChangeEvent)
