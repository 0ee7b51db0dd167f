package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mnohosten/streamhub/pkg/database"
)

// CreateIndex creates an index from {"keys": {"type": 1, "genres": 1}, "unique": false, "name": ""}
func (h *Handlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
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
	keys, err := subDocument(body, "keys")
	if err != nil {
		writeError(w, err)
		return
	}
	if keys == nil || keys.Len() == 0 {
		writeError(w, &BadRequestError{Message: "keys is required"})
		return
	}

	options := &database.IndexOptions{}
	if v, ok := body.Get("unique"); ok {
		unique, isBool := v.(bool)
		if !isBool {
			writeError(w, &BadRequestError{Message: "unique must be a boolean"})
			return
		}
		options.Unique = unique
	}
	if v, ok := body.Get("name"); ok {
		name, isString := v.(string)
		if !isString {
			writeError(w, &BadRequestError{Message: "name must be a string"})
			return
		}
		options.Name = name
	}

	name, err := h.db.Collection(collectionName).CreateIndex(r.Context(), keys, options)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection": collectionName,
		"name":       name,
		"keys":       keys,
		"unique":     options.Unique,
	})
}

// ListIndexes lists all indexes on a collection
func (h *Handlers) ListIndexes(w http.ResponseWriter, r *http.Request) {
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

	writeSuccess(w, map[string]interface{}{
		"collection": collectionName,
		"indexes":    coll.ListIndexes(),
	})
}

// DropIndex deletes an index by name
func (h *Handlers) DropIndex(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	indexName := chi.URLParam(r, "name")
	if indexName == "" {
		writeError(w, &BadRequestError{Message: "index name is required"})
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := coll.DropIndex(indexName); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection": collectionName,
		"index":      indexName,
	})
}
