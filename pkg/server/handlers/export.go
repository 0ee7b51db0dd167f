package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/streamhub/pkg/impex"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

// splitList splits a comma-separated query parameter
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ExportDump writes a compressed dump of the database.
// Query parameters: codec (zstd, snappy, none), level, collections (comma-separated).
func (h *Handlers) ExportDump(w http.ResponseWriter, r *http.Request) {
	options := impex.DefaultExportOptions()
	q := r.URL.Query()

	codec, err := impex.ParseCodec(q.Get("codec"))
	if err != nil {
		writeError(w, &BadRequestError{Message: err.Error()})
		return
	}
	options.Codec = codec
	if level := q.Get("level"); level != "" {
		options.Level, err = strconv.Atoi(level)
		if err != nil {
			writeError(w, &BadRequestError{Message: "level must be an integer"})
			return
		}
	}
	options.Collections = splitList(q.Get("collections"))

	// The dump is buffered so a failure can still be reported as an error
	var buf bytes.Buffer
	stats, err := impex.Export(r.Context(), h.db, &buf, options)
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.shdump", h.db.Name(), time.Now().UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Export-Documents", strconv.Itoa(stats.Documents))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportDump loads a dump from the request body. ?drop=true replaces
// existing collections.
func (h *Handlers) ImportDump(w http.ResponseWriter, r *http.Request) {
	options := &impex.ImportOptions{Drop: r.URL.Query().Get("drop") == "true"}

	start := time.Now()
	stats, err := impex.Import(r.Context(), h.db, r.Body, options)
	h.track(metrics.OpInsert, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, stats)
}

// ExportCollection writes a collection as JSON or CSV.
// Query parameters: format (json, csv), fields (CSV columns, comma-separated).
func (h *Handlers) ExportCollection(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	format, err := impex.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, &BadRequestError{Message: err.Error()})
		return
	}

	coll, err := h.getCollection(collectionName)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := h.find(r, coll, nil, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := impex.WriteDocuments(&buf, docs, format, splitList(r.URL.Query().Get("fields"))); err != nil {
		writeError(w, err)
		return
	}

	contentType := "application/json"
	if format == impex.FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", collectionName+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ImportCollection inserts the JSON array or CSV rows in the request body
func (h *Handlers) ImportCollection(w http.ResponseWriter, r *http.Request) {
	collectionName, err := collectionParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	format, err := impex.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, &BadRequestError{Message: err.Error()})
		return
	}

	docs, err := impex.ReadDocuments(r.Body, format)
	if err != nil {
		writeError(w, &BadRequestError{Message: err.Error()})
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
		"collection": collectionName,
		"ids":        ids,
	}, len(ids))
}
