package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mnohosten/streamhub/pkg/cache"
	"github.com/mnohosten/streamhub/pkg/catalog"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// SeedCatalog loads the sample streaming catalog and its indexes
func (h *Handlers) SeedCatalog(w http.ResponseWriter, r *http.Request) {
	result, err := catalog.Seed(r.Context(), h.db)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"inserted": result.Inserted,
		"indexes":  result.Indexes,
	})
}

// ListOperations lists the named catalog operations
func (h *Handlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	ops := catalog.Operations()
	result := make([]map[string]interface{}, len(ops))
	for i, op := range ops {
		result[i] = map[string]interface{}{
			"name":        op.Name,
			"description": op.Description,
			"collection":  op.Collection,
			"kind":        op.Kind,
		}
	}
	writeSuccessWithCount(w, result, len(result))
}

// RunOperation runs a named catalog operation
func (h *Handlers) RunOperation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	op, ok := catalog.Lookup(name)
	if !ok {
		writeError(w, &BadRequestError{Message: "unknown operation: " + name})
		return
	}

	result, cached, err := h.runOperation(r, op)
	if err != nil {
		writeError(w, err)
		return
	}

	docs := result.Documents
	if docs == nil {
		docs = []*document.Document{}
	}
	writeSuccess(w, map[string]interface{}{
		"operation": result.Operation,
		"kind":      op.Kind,
		"documents": docs,
		"affected":  result.Affected,
		"cached":    cached,
	})
}

// runOperation runs op, answering reads from the report cache when no
// write has happened since the result was computed
func (h *Handlers) runOperation(r *http.Request, op catalog.Operation) (*catalog.Result, bool, error) {
	cacheable := h.options.ReportCache != nil && h.hub != nil &&
		(op.Kind == catalog.KindFind || op.Kind == catalog.KindAggregate)

	var key, version string
	if cacheable {
		key = cache.Key("catalog", op.Name)
		// Read the version first so a write during the run only makes the
		// stored result stale
		version = h.hub.CurrentToken().String()
		if v, ok := h.options.ReportCache.Get(key, version); ok {
			return v.(*catalog.Result), true, nil
		}
	}

	start := time.Now()
	result, err := op.Run(r.Context(), h.db)
	h.track(operationMetric(op.Kind), start, err)
	if err != nil {
		return nil, false, err
	}
	if cacheable {
		h.options.ReportCache.Put(key, version, result)
	}
	return result, false, nil
}

func operationMetric(kind catalog.Kind) metrics.Op {
	switch kind {
	case catalog.KindUpdate:
		return metrics.OpUpdate
	case catalog.KindDelete:
		return metrics.OpDelete
	case catalog.KindAggregate:
		return metrics.OpAggregate
	default:
		return metrics.OpFind
	}
}

// ValidateDocument checks a document against its collection's catalog
// model without writing it
func (h *Handlers) ValidateDocument(w http.ResponseWriter, r *http.Request) {
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
	if err := catalog.Validate(collectionName, doc); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]interface{}{
		"collection": collectionName,
		"valid":      true,
	})
}
