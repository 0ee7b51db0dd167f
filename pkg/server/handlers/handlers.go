package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mnohosten/streamhub/pkg/cache"
	"github.com/mnohosten/streamhub/pkg/catalog"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/impex"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// Options configures the handlers
type Options struct {
	// ValidateCatalog checks writes to the catalog collections against
	// their models
	ValidateCatalog bool

	// CursorTimeout closes server-side cursors idle for longer than this
	CursorTimeout time.Duration

	// ReportCache holds results of read-only catalog operations; nil
	// disables caching
	ReportCache *cache.ResultCache
}

// Handlers holds the database instance and provides HTTP handlers
type Handlers struct {
	db      *database.Database
	hub     *changestream.Hub
	metrics *metrics.MetricsCollector
	cursors *cursorRegistry
	options Options
}

// New creates a new Handlers instance. hub and collector may be nil.
func New(db *database.Database, hub *changestream.Hub, collector *metrics.MetricsCollector, options Options) *Handlers {
	if collector == nil {
		collector = metrics.NewMetricsCollector()
	}
	if options.CursorTimeout <= 0 {
		options.CursorTimeout = 10 * time.Minute
	}
	return &Handlers{
		db:      db,
		hub:     hub,
		metrics: collector,
		cursors: newCursorRegistry(options.CursorTimeout),
		options: options,
	}
}

// getCollection retrieves an existing collection by name
func (h *Handlers) getCollection(name string) (*database.Collection, error) {
	if name == "" {
		return nil, &BadRequestError{Message: "collection name is required"}
	}
	return h.db.GetCollection(name)
}

// collectionParam returns the {collection} URL parameter
func collectionParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "collection")
	if name == "" {
		return "", &BadRequestError{Message: "collection name is required"}
	}
	return name, nil
}

// validate checks doc against the catalog model of its collection
func (h *Handlers) validate(collection string, doc *document.Document) error {
	if !h.options.ValidateCatalog {
		return nil
	}
	return catalog.Validate(collection, doc)
}

// track records the duration and outcome of op
func (h *Handlers) track(op metrics.Op, start time.Time, err error) {
	h.metrics.Record(op, time.Since(start), err == nil)
}

// trackScan records whether a filter is answered from an index
func (h *Handlers) trackScan(coll *database.Collection, filter *document.Document) {
	name, err := coll.ChooseIndex(filter)
	if err != nil {
		return
	}
	if name != "" {
		h.metrics.RecordIndexScan()
	} else {
		h.metrics.RecordCollectionScan()
	}
}

// readBody reads the request body as Extended JSON. Key order is kept,
// which matters for sort specifications and compound index keys.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &BadRequestError{Message: "failed to read request body"}
	}
	defer r.Body.Close()

	if len(body) == 0 {
		return nil, &BadRequestError{Message: "request body is empty"}
	}
	return body, nil
}

// parseDocumentBody parses the request body as one document
func parseDocumentBody(r *http.Request) (*document.Document, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	doc, err := document.ParseJSON(body)
	if err != nil {
		return nil, &BadRequestError{Message: "invalid JSON: " + err.Error()}
	}
	return doc, nil
}

// parseArrayBody parses the request body as an array of documents
func parseArrayBody(r *http.Request) ([]*document.Document, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	docs, err := document.ParseJSONArray(body)
	if err != nil {
		return nil, &BadRequestError{Message: "invalid JSON: " + err.Error()}
	}
	return docs, nil
}

// subDocument returns an optional embedded document field of body
func subDocument(body *document.Document, field string) (*document.Document, error) {
	v, ok := body.Get(field)
	if !ok || v == nil {
		return nil, nil
	}
	doc, ok := v.(*document.Document)
	if !ok {
		return nil, &BadRequestError{Message: fmt.Sprintf("%s must be a document", field)}
	}
	return doc, nil
}

// intField returns an optional non-negative integer field of body
func intField(body *document.Document, field string) (int, error) {
	v, ok := body.Get(field)
	if !ok || v == nil {
		return 0, nil
	}
	n, ok := document.ToInt64(v)
	if !ok || n < 0 {
		return 0, &BadRequestError{Message: fmt.Sprintf("%s must be a non-negative integer", field)}
	}
	return int(n), nil
}

// parseID converts a path id to a document id. 24-character hex strings
// are ObjectIDs; anything else is a string id.
func parseID(s string) interface{} {
	if len(s) == 24 {
		if oid, err := document.ObjectIDFromHex(s); err == nil {
			return oid
		}
	}
	return s
}

// idFilter builds {_id: id}
func idFilter(id interface{}) *document.Document {
	filter := document.NewDocument()
	filter.Set("_id", id)
	return filter
}

// Error types for consistent error handling

type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type DocumentNotFoundError struct {
	ID string
}

func (e *DocumentNotFoundError) Error() string {
	return "document not found: " + e.ID
}

// writeError writes an error response with appropriate HTTP status code
func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorType := "InternalError"
	var details interface{}

	var badRequest *BadRequestError
	var notFound *DocumentNotFoundError
	var validation *catalog.ValidationError
	switch {
	case errors.As(err, &badRequest):
		statusCode, errorType = http.StatusBadRequest, "BadRequest"
	case errors.As(err, &validation):
		statusCode, errorType = http.StatusBadRequest, "ValidationError"
		details = validation.Fields
	case errors.Is(err, database.ErrInvalidExpression):
		statusCode, errorType = http.StatusBadRequest, "InvalidExpression"
	case errors.Is(err, impex.ErrInvalidDump):
		statusCode, errorType = http.StatusBadRequest, "InvalidDump"
	case errors.As(err, &notFound), errors.Is(err, database.ErrDocumentNotFound):
		statusCode, errorType = http.StatusNotFound, "DocumentNotFound"
	case errors.Is(err, database.ErrCollectionNotFound):
		statusCode, errorType = http.StatusNotFound, "CollectionNotFound"
	case errors.Is(err, database.ErrIndexNotFound):
		statusCode, errorType = http.StatusNotFound, "IndexNotFound"
	case errors.Is(err, database.ErrConstraintViolation):
		statusCode, errorType = http.StatusConflict, "DuplicateKey"
	case errors.Is(err, database.ErrIndexExists):
		statusCode, errorType = http.StatusConflict, "IndexExists"
	}

	response := map[string]interface{}{
		"ok":      false,
		"error":   errorType,
		"message": err.Error(),
		"code":    statusCode,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, statusCode, response)
}

func writeJSON(w http.ResponseWriter, statusCode int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, result interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
	})
}

// writeSuccessWithCount writes a success response with count
func writeSuccessWithCount(w http.ResponseWriter, result interface{}, count int) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"result": result,
		"count":  count,
	})
}
