package changestream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

var (
	// ErrStreamClosed is returned by Next after Close
	ErrStreamClosed = errors.New("change stream closed")
	// ErrStreamLagged closes a stream whose consumer fell behind its
	// buffer. The stream can be reopened with ResumeAfter.
	ErrStreamLagged = errors.New("change stream consumer fell behind")
	// ErrResumeTokenExpired is returned when a resume token is older than
	// the retained history
	ErrResumeTokenExpired = errors.New("resume token is no longer in history")
)

// OperationType represents the type of change operation
type OperationType string

const (
	OperationTypeInsert OperationType = "insert"
	OperationTypeUpdate OperationType = "update"
	OperationTypeDelete OperationType = "delete"
	OperationTypeDrop   OperationType = "drop"
)

// ChangeEvent represents a single committed write
type ChangeEvent struct {
	// ID is the resume token for this event
	ID            ResumeToken
	OperationType OperationType
	Timestamp     time.Time
	Database      string
	Collection    string

	// DocumentKey is the _id of the written document; unset for drops
	DocumentKey interface{}

	// FullDocument is set for inserts, and for updates when the stream
	// asks for FullDocumentUpdateLookup
	FullDocument *document.Document

	// UpdateDescription is set for updates
	UpdateDescription *UpdateDescription
}

// UpdateDescription describes what an update wrote
type UpdateDescription struct {
	UpdatedFields *document.Document
	RemovedFields []string
}

// ResumeToken identifies a position in the event sequence
type ResumeToken struct {
	Seq uint64
}

// String encodes the token for clients
func (t ResumeToken) String() string {
	return strconv.FormatUint(t.Seq, 10)
}

// ParseResumeToken decodes a token produced by String
func ParseResumeToken(s string) (ResumeToken, error) {
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ResumeToken{}, fmt.Errorf("invalid resume token %q", s)
	}
	return ResumeToken{Seq: seq}, nil
}

// ToDocument renders the event in the change stream wire shape
func (e *ChangeEvent) ToDocument() *document.Document {
	doc := document.NewDocument()
	doc.Set("_id", e.ID.String())
	doc.Set("operationType", string(e.OperationType))
	doc.Set("clusterTime", e.Timestamp)
	ns := document.NewDocument()
	ns.Set("db", e.Database)
	ns.Set("coll", e.Collection)
	doc.Set("ns", ns)

	if e.OperationType != OperationTypeDrop {
		key := document.NewDocument()
		key.Set("_id", e.DocumentKey)
		doc.Set("documentKey", key)
	}

	if e.FullDocument != nil {
		doc.Set("fullDocument", e.FullDocument)
	}
	if e.UpdateDescription != nil {
		desc := document.NewDocument()
		desc.Set("updatedFields", e.UpdateDescription.UpdatedFields)
		removed := make([]interface{}, len(e.UpdateDescription.RemovedFields))
		for i, f := range e.UpdateDescription.RemovedFields {
			removed[i] = f
		}
		desc.Set("removedFields", removed)
		doc.Set("updateDescription", desc)
	}
	return doc
}

// MarshalJSON encodes the event as relaxed Extended JSON
func (e *ChangeEvent) MarshalJSON() ([]byte, error) {
	return e.ToDocument().MarshalJSON()
}

// FullDocumentOption controls when to include the full document in change events
type FullDocumentOption string

const (
	// FullDocumentDefault includes the full document for inserts only
	FullDocumentDefault FullDocumentOption = "default"

	// FullDocumentUpdateLookup also includes the document after each update
	FullDocumentUpdateLookup FullDocumentOption = "updateLookup"
)

// ChangeStreamOptions configures a change stream
type ChangeStreamOptions struct {
	// Collection restricts the stream to one collection; empty means all
	Collection string

	// OperationTypes restricts the stream to these operations; empty means all
	OperationTypes []OperationType

	// Filter is a query evaluated against the event document
	// ({operationType, ns, documentKey, fullDocument, ...})
	Filter *document.Document

	FullDocument FullDocumentOption

	// ResumeAfter replays retained events after this token before
	// delivering new ones
	ResumeAfter *ResumeToken

	// BatchSize is the number of events buffered for the consumer (default: 100)
	BatchSize int
}

// DefaultChangeStreamOptions returns default options
func DefaultChangeStreamOptions() *ChangeStreamOptions {
	return &ChangeStreamOptions{
		FullDocument: FullDocumentDefault,
		BatchSize:    100,
	}
}

// ChangeStream is one subscriber's view of the event sequence
type ChangeStream struct {
	id      string
	hub     *Hub
	options *ChangeStreamOptions
	filter  *query.Filter
	ops     map[OperationType]bool

	events chan *ChangeEvent
	done   chan struct{}

	mu                 sync.Mutex
	currentResumeToken ResumeToken
	err                error
	closed             bool
}

func newChangeStream(id string, hub *Hub, options *ChangeStreamOptions, backlog int) (*ChangeStream, error) {
	filter, err := query.Parse(options.Filter)
	if err != nil {
		return nil, err
	}
	var ops map[OperationType]bool
	if len(options.OperationTypes) > 0 {
		ops = make(map[OperationType]bool, len(options.OperationTypes))
		for _, op := range options.OperationTypes {
			ops[op] = true
		}
	}

	cs := &ChangeStream{
		id:      id,
		hub:     hub,
		options: options,
		filter:  filter,
		ops:     ops,
		events:  make(chan *ChangeEvent, options.BatchSize+backlog),
		done:    make(chan struct{}),
	}
	if options.ResumeAfter != nil {
		cs.currentResumeToken = *options.ResumeAfter
	}
	return cs, nil
}

// ID returns the subscription id
func (cs *ChangeStream) ID() string {
	return cs.id
}

// matches reports whether the stream wants the event
func (cs *ChangeStream) matches(event *ChangeEvent) bool {
	if cs.options.Collection != "" && event.Collection != cs.options.Collection {
		return false
	}
	if cs.ops != nil && !cs.ops[event.OperationType] {
		return false
	}
	if cs.filter.IsEmpty() {
		return true
	}
	return cs.filter.Matches(event.ToDocument())
}

// shape trims the event to what the stream asked for
func (cs *ChangeStream) shape(event *ChangeEvent) *ChangeEvent {
	if event.OperationType != OperationTypeUpdate || cs.options.FullDocument == FullDocumentUpdateLookup {
		return event
	}
	trimmed := *event
	trimmed.FullDocument = nil
	return &trimmed
}

// deliver hands an event to the consumer without blocking. Called with the
// hub lock held. A full buffer closes the stream with ErrStreamLagged.
func (cs *ChangeStream) deliver(event *ChangeEvent) bool {
	if !cs.matches(event) {
		return true
	}
	select {
	case cs.events <- cs.shape(event):
		return true
	default:
		cs.fail(ErrStreamLagged)
		return false
	}
}

func (cs *ChangeStream) fail(err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	cs.err = err
	cs.closed = true
	close(cs.done)
}

// Next returns the next change event, blocking until one is available.
// Buffered events are still returned after the stream lags; the lag error
// follows them.
func (cs *ChangeStream) Next(ctx context.Context) (*ChangeEvent, error) {
	select {
	case event := <-cs.events:
		return cs.advance(event), nil
	default:
	}

	select {
	case event := <-cs.events:
		return cs.advance(event), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cs.done:
		select {
		case event := <-cs.events:
			return cs.advance(event), nil
		default:
			return nil, cs.Err()
		}
	}
}

// TryNext returns the next change event if one is buffered
func (cs *ChangeStream) TryNext() (*ChangeEvent, error) {
	select {
	case event := <-cs.events:
		return cs.advance(event), nil
	default:
		select {
		case <-cs.done:
			return nil, cs.Err()
		default:
			return nil, nil
		}
	}
}

func (cs *ChangeStream) advance(event *ChangeEvent) *ChangeEvent {
	cs.mu.Lock()
	cs.currentResumeToken = event.ID
	cs.mu.Unlock()
	return event
}

// ResumeToken returns the token of the last event returned
func (cs *ChangeStream) ResumeToken() ResumeToken {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.currentResumeToken
}

// Err returns why the stream stopped, or nil while it is open
func (cs *ChangeStream) Err() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.err
}

// Done is closed when the stream stops
func (cs *ChangeStream) Done() <-chan struct{} {
	return cs.done
}

// Close unsubscribes the stream
func (cs *ChangeStream) Close() error {
	cs.hub.unsubscribe(cs.id)
	cs.fail(ErrStreamClosed)
	return nil
}

// fromDatabaseEvent converts a committed write into a change event
func fromDatabaseEvent(dbName string, e database.ChangeEvent) *ChangeEvent {
	event := &ChangeEvent{
		Timestamp:    e.Time,
		Database:     dbName,
		Collection:   e.Collection,
		DocumentKey:  e.DocumentID,
		FullDocument: e.Document,
	}

	switch e.Operation {
	case database.OperationInsert:
		event.OperationType = OperationTypeInsert
	case database.OperationUpdate:
		event.OperationType = OperationTypeUpdate
		event.UpdateDescription = describeUpdate(e.Document, e.UpdatedFields)
	case database.OperationDelete:
		event.OperationType = OperationTypeDelete
		event.FullDocument = nil
	case database.OperationDrop:
		event.OperationType = OperationTypeDrop
		event.FullDocument = nil
	}
	return event
}

// describeUpdate splits the written paths into those holding a value after
// the update and those removed by it
func describeUpdate(after *document.Document, paths []string) *UpdateDescription {
	desc := &UpdateDescription{
		UpdatedFields: document.NewDocument(),
		RemovedFields: make([]string, 0),
	}
	for _, path := range paths {
		if after == nil {
			desc.RemovedFields = append(desc.RemovedFields, path)
			continue
		}
		if v, ok := after.GetPath(path); ok {
			desc.UpdatedFields.Set(path, v)
		} else {
			desc.RemovedFields = append(desc.RemovedFields, path)
		}
	}
	return desc
}
