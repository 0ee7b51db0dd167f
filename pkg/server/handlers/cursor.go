package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/metrics"
)

const defaultBatchSize = 100

// openCursor is a server-side cursor paged by FetchBatch
type openCursor struct {
	mu         sync.Mutex
	id         string
	collection string
	cursor     *database.Cursor
	batchSize  int
	timeout    time.Duration
	lastUsed   time.Time
	position   int
	// next holds the document read ahead to answer hasMore
	next *document.Document
	done bool
}

// cursorRegistry tracks open cursors. Idle cursors expire and are reaped
// whenever the registry is touched.
type cursorRegistry struct {
	mu             sync.Mutex
	cursors        map[string]*openCursor
	defaultTimeout time.Duration
}

func newCursorRegistry(timeout time.Duration) *cursorRegistry {
	return &cursorRegistry{
		cursors:        make(map[string]*openCursor),
		defaultTimeout: timeout,
	}
}

func (cr *cursorRegistry) add(oc *openCursor) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.reapLocked(time.Now())
	cr.cursors[oc.id] = oc
}

func (cr *cursorRegistry) get(id string) (*openCursor, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.reapLocked(time.Now())
	oc, ok := cr.cursors[id]
	return oc, ok
}

func (cr *cursorRegistry) remove(id string) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	_, ok := cr.cursors[id]
	delete(cr.cursors, id)
	return ok
}

// removeCollection drops every cursor over collection
func (cr *cursorRegistry) removeCollection(collection string) int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	n := 0
	for id, oc := range cr.cursors {
		if oc.collection == collection {
			delete(cr.cursors, id)
			n++
		}
	}
	return n
}

func (cr *cursorRegistry) len() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.reapLocked(time.Now())
	return len(cr.cursors)
}

func (cr *cursorRegistry) reapLocked(now time.Time) {
	for id, oc := range cr.cursors {
		oc.mu.Lock()
		expired := now.Sub(oc.lastUsed) > oc.timeout
		oc.mu.Unlock()
		if expired {
			delete(cr.cursors, id)
		}
	}
}

// fill reads up to batchSize documents plus one read-ahead
func (oc *openCursor) fill(ctx context.Context) ([]*document.Document, error) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.lastUsed = time.Now()

	docs := make([]*document.Document, 0, oc.batchSize)
	if oc.next != nil {
		docs = append(docs, oc.next)
		oc.next = nil
	}
	for !oc.done && len(docs) <= oc.batchSize {
		doc, err := oc.cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			oc.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) > oc.batchSize {
		oc.next = docs[oc.batchSize]
		docs = docs[:oc.batchSize]
	}
	oc.position += len(docs)
	return docs, nil
}

func (oc *openCursor) hasMore() bool {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.next != nil
}

func (oc *openCursor) returned() int {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.position
}

// CreateCursorResponse represents a cursor creation response
type CreateCursorResponse struct {
	CursorID  string               `json:"cursorId"`
	BatchSize int                  `json:"batchSize"`
	Documents []*document.Document `json:"documents"`
	HasMore   bool                 `json:"hasMore"`
}

// FetchBatchResponse represents a batch fetch response
type FetchBatchResponse struct {
	Documents []*document.Document `json:"documents"`
	Position  int                  `json:"position"`
	HasMore   bool                 `json:"hasMore"`
}

// CreateCursor opens a server-side cursor and returns its first batch.
// The body is a search request plus "collection", "batchSize" and an
// idle "timeout" such as "5m".
func (h *Handlers) CreateCursor(w http.ResponseWriter, r *http.Request) {
	body, err := parseDocumentBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	collectionName, _ := body.Get("collection")
	name, _ := collectionName.(string)
	coll, err := h.getCollection(name)
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
	batchSize, err := intField(body, "batchSize")
	if err != nil {
		writeError(w, err)
		return
	}
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}

	timeout := h.cursors.defaultTimeout
	if v, ok := body.Get("timeout"); ok {
		s, _ := v.(string)
		timeout, err = time.ParseDuration(s)
		if err != nil || timeout <= 0 {
			writeError(w, &BadRequestError{Message: "invalid timeout format: " + s})
			return
		}
	}

	start := time.Now()
	cursor, err := coll.FindWithOptions(r.Context(), filter, opts)
	h.track(metrics.OpFind, start, err)
	if err != nil {
		writeError(w, err)
		return
	}
	h.trackScan(coll, filter)

	oc := &openCursor{
		id:         uuid.NewString(),
		collection: name,
		cursor:     cursor,
		batchSize:  batchSize,
		timeout:    timeout,
		lastUsed:   time.Now(),
	}
	docs, err := oc.fill(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	response := CreateCursorResponse{
		BatchSize: batchSize,
		Documents: docs,
		HasMore:   oc.hasMore(),
	}
	if response.HasMore {
		h.cursors.add(oc)
		response.CursorID = oc.id
	}
	writeSuccess(w, response)
}

// FetchBatch fetches the next batch of documents from a cursor. The
// cursor is closed once it is exhausted.
func (h *Handlers) FetchBatch(w http.ResponseWriter, r *http.Request) {
	cursorID := chi.URLParam(r, "cursorId")
	oc, ok := h.cursors.get(cursorID)
	if !ok {
		writeError(w, &BadRequestError{Message: "cursor not found: " + cursorID})
		return
	}

	docs, err := oc.fill(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	response := FetchBatchResponse{
		Documents: docs,
		Position:  oc.returned(),
		HasMore:   oc.hasMore(),
	}
	if !response.HasMore {
		h.cursors.remove(cursorID)
	}
	writeSuccess(w, response)
}

// CloseCursor closes and removes a cursor
func (h *Handlers) CloseCursor(w http.ResponseWriter, r *http.Request) {
	cursorID := chi.URLParam(r, "cursorId")
	if !h.cursors.remove(cursorID) {
		writeError(w, &BadRequestError{Message: "cursor not found: " + cursorID})
		return
	}
	writeSuccess(w, map[string]interface{}{"cursorId": cursorID, "closed": true})
}
