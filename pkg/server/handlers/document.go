package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// InsertDocument inserts a new document with auto-generated ID
func (h *Handlers) InsertDocument(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	h.insert(w, r, collectionName, doc)
}

// InsertDocumentWithID inserts a document with a specific ID
func (h *Handlers) InsertDocumentWithID(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, &BadRequestError{Message: "document ID is required"})
		return
	}

	doc, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc.Set("_id", parseID(id))

	h.insert(w, r, collectionName, doc)
}

func (h *Handlers) insert(w http.ResponseWriter, r *http.Request, collectionName string, doc *document.Document) {
	if err := h.validate(collectionName, doc); err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	id, err := h.db.Collection(collectionName).InsertOne(r.Context(), doc)
	h.track(metrics.OpInsert, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"id":         id,
		"collection": collectionName,
	})
}

// GetDocument retrieves a document by ID
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	doc, err := coll.FindOne(r.Context(), idFilter(parseID(id)))
	h.track(metrics.OpFind, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, doc)
}

// UpdateDocument applies update operators to a document by ID
func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	update, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	n, err := coll.UpdateOne(r.Context(), idFilter(parseID(id)), update)
	h.track(metrics.OpUpdate, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, &DocumentNotFoundError{ID: id})
		return
	}

	writeSuccess(w, map[string]interface{}{
		"id":         id,
		"collection": collectionName,
	})
}

// DeleteDocument deletes a document by ID
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	n, err := coll.DeleteOne(r.Context(), idFilter(parseID(id)))
	h.track(metrics.OpDelete, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if n == 0 {
		writeError(w, &DocumentNotFoundError{ID: id})
		return
	}

	writeSuccess(w, map[string]interface{}{
		"id":         id,
		"collection": collectionName,
	})
}

// BulkInsert inserts an array of documents. Insertion stops at the first
// failure; documents before it stay inserted.
func (h *Handlers) BulkInsert(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := parseArrayBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(docs) == 0 {
		writeError(w, &BadRequestError{Message: "no documents provided"})
		return
	}
	for i, doc := range docs {
		if err := h.validate(collectionName, doc); err != nil {
			writeError(w, fmt.Errorf("document %d: %w", i, err))
			return
		}
	}

	start := time.Now()
	ids, err := h.db.Collection(collectionName).InsertMany(r.Context(), docs)
	h.track(metrics.OpInsert, start, err)
	if err != nil {
		writeError(w, fmt.Errorf("inserted %d of %d documents: %w", len(ids), len(docs), err))
		return
	}

	writeSuccessWithCount(w, map[string]interface{}{
		"ids":        ids,
		"collection": collectionName,
	}, len(ids))
}

// bulkError reports one failed bulk operation
type bulkError struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BulkWrite runs a list of insert, update and delete operations. Ordered
// writes (the default) stop at the first error; ?ordered=false runs them all.
func (h *Handlers) BulkWrite(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, _ := body.Get("operations")
	operations, err := document.DocumentsFrom(raw)
	if err != nil || len(operations) == 0 {
		writeError(w, &BadRequestError{Message: "operations must be a non-empty array of documents"})
		return
	}

	ordered := r.URL.Query().Get("ordered") != "false"
	coll := h.db.Collection(collectionName)
	ctx := r.Context()

	var insertedIDs []interface{}
	var modified, deleted int
	var failures []bulkError

	for i, op := range operations {
		opType, _ := op.Get("type")
		typeName, _ := opType.(string)
		filter, ferr := subDocument(op, "filter")
		err := ferr

		if err == nil {
			switch typeName {
			case "insert":
				var doc *document.Document
				if doc, err = subDocument(op, "document"); err == nil && doc == nil {
					err = &BadRequestError{Message: "document is required"}
				}
				if err == nil {
					err = h.validate(collectionName, doc)
				}
				if err == nil {
					var id interface{}
					start := time.Now()
					id, err = coll.InsertOne(ctx, doc)
					h.track(metrics.OpInsert, start, err)
					if err == nil {
						insertedIDs = append(insertedIDs, id)
					}
				}
			case "update", "updateMany":
				var update *document.Document
				if update, err = subDocument(op, "update"); err == nil && update == nil {
					err = &BadRequestError{Message: "update is required"}
				}
				if err == nil {
					var n int
					start := time.Now()
					if typeName == "update" {
						n, err = coll.UpdateOne(ctx, filter, update)
					} else {
						n, err = coll.UpdateMany(ctx, filter, update)
					}
					h.track(metrics.OpUpdate, start, err)
					modified += n
				}
			case "delete", "deleteMany":
				var n int
				start := time.Now()
				if typeName == "delete" {
					n, err = coll.DeleteOne(ctx, filter)
				} else {
					n, err = coll.DeleteMany(ctx, filter)
				}
				h.track(metrics.OpDelete, start, err)
				deleted += n
			default:
				err = &BadRequestError{Message: fmt.Sprintf("unknown operation type %q", typeName)}
			}
		}

		if err != nil {
			failures = append(failures, bulkError{Index: i, Type: typeName, Message: err.Error()})
			if ordered {
				break
			}
		}
	}

	result := map[string]interface{}{
		"insertedCount": len(insertedIDs),
		"modifiedCount": modified,
		"deletedCount":  deleted,
		"insertedIds":   insertedIDs,
	}
	if len(failures) > 0 {
		result["ok"] = false
		result["error"] = "BulkWriteError"
		result["code"] = http.StatusMultiStatus
		result["errors"] = failures
		writeJSON(w, http.StatusMultiStatus, result)
		return
	}
	writeSuccess(w, result)
}
