package handlers

import (
	"net/http"
)

// CreateCollection creates a collection. Creating one that exists is not
// an error; created reports which happened.
func (h *Handlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	name, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	_, err = h.db.GetCollection(name)
	created := err != nil
	h.db.Collection(name)

	writeSuccess(w, map[string]interface{}{
		"collection": name,
		"created":    created,
	})
}

// DropCollection deletes a collection with its documents and indexes.
// Cursors still open on it are closed.
func (h *Handlers) DropCollection(w http.ResponseWriter, r *http.Request) {
	name, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.db.DropCollection(name); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"collection":    name,
		"closedCursors": h.cursors.removeCollection(name),
	})
}

// GetCollectionStats returns document, index and query statistics for a
// collection
func (h *Handlers) GetCollectionStats(w http.ResponseWriter, r *http.Request) {
	name, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := h.getCollection(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, coll.Stats())
}
