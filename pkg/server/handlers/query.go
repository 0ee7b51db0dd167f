package handlers

import (
	"net/http"
	"time"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// parseQueryOptions reads sort, projection, limit and skip from a request
// body such as {"filter": {...}, "sort": {"rating": -1}, "limit": 10}
func parseQueryOptions(body *document.Document) (*database.QueryOptions, error) {
	opts := &database.QueryOptions{}
	var err error
	if opts.Sort, err = subDocument(body, "sort"); err != nil {
		return nil, err
	}
	if opts.Projection, err = subDocument(body, "projection"); err != nil {
		return nil, err
	}
	if opts.Limit, err = intField(body, "limit"); err != nil {
		return nil, err
	}
	if opts.Skip, err = intField(body, "skip"); err != nil {
		return nil, err
	}
	return opts, nil
}

// SearchDocuments searches documents with filters, projection, sorting, and pagination
func (h *Handlers) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := parseQueryOptions(body)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	docs, err := h.find(r, coll, filter, opts)
	h.track(metrics.OpFind, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccessWithCount(w, docs, len(docs))
}

func (h *Handlers) find(r *http.Request, coll *database.Collection, filter *document.Document, opts *database.QueryOptions) ([]*document.Document, error) {
	cursor, err := coll.FindWithOptions(r.Context(), filter, opts)
	if err != nil {
		return nil, err
	}
	h.trackScan(coll, filter)
	docs, err := cursor.All(r.Context())
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return docs, nil
}

// CountDocuments counts all documents in a collection
func (h *Handlers) CountDocuments(w http.ResponseWriter, r *http.Request) {
	h.count(w, r, nil)
}

// CountDocumentsWithFilter counts documents matching {"filter": {...}}
func (h *Handlers) CountDocumentsWithFilter(w http.ResponseWriter, r *http.Request) {
	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}
	h.count(w, r, filter)
}

func (h *Handlers) count(w http.ResponseWriter, r *http.Request, filter *document.Document) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	count, err := coll.Count(r.Context(), filter)
	h.track(metrics.OpFind, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection": collectionName,
		"count":      count,
	})
}

// UpdateOne applies {"update": {...}} to the first document matching {"filter": {...}}
func (h *Handlers) UpdateOne(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// UpdateMany applies {"update": {...}} to every document matching {"filter": {...}}
func (h *Handlers) UpdateMany(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request, many bool) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}
	update, err := subDocument(body, "update")
	if err != nil {
		writeError(w, err)
		return
	}
	if update == nil {
		writeError(w, &BadRequestError{Message: "update is required"})
		return
	}

	start := time.Now()
	var n int
	if many {
		n, err = coll.UpdateMany(r.Context(), filter, update)
	} else {
		n, err = coll.UpdateOne(r.Context(), filter, update)
	}
	h.track(metrics.OpUpdate, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection":    collectionName,
		"modifiedCount": n,
	})
}

// DeleteMany deletes every document matching {"filter": {...}}. An empty
// body is rejected so a missing filter never clears a collection.
func (h *Handlers) DeleteMany(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}
	if filter == nil {
		writeError(w, &BadRequestError{Message: "filter is required; use {} to delete everything"})
		return
	}

	start := time.Now()
	n, err := coll.DeleteMany(r.Context(), filter)
	h.track(metrics.OpDelete, start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection":   collectionName,
		"deletedCount": n,
	})
}

// Explain reports how a search for {"filter": {...}} would run
func (h *Handlers) Explain(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := subDocument(body, "filter")
	if err != nil {
		writeError(w, err)
		return
	}

	explanation, err := coll.Explain(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, explanation)
}
