package handlers

import (
	"net/http"
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// Aggregate executes {"pipeline": [...]} against a collection
func (h *Handlers) Aggregate(w http.ResponseWriter, r *http.Request) {
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
	raw, ok := body.Get("pipeline")
	if !ok {
		writeError(w, &BadRequestError{Message: "pipeline is required"})
		return
	}
	stages, err := document.DocumentsFrom(raw)
	if err != nil {
		writeError(w, &BadRequestError{Message: "pipeline must be an array of stages"})
		return
	}

	start := time.Now()
	docs, err := coll.Aggregate(r.Context(), stages)
	h.track(metrics.OpAggregate, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []*document.Document{}
	}

	writeSuccessWithCount(w, docs, len(docs))
}
