package changestream

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/mnohosten/streamhub/pkg/database"
)

// Sink receives every change event published by a hub, in order
type Sink interface {
	Send(event *ChangeEvent) error
	Close() error
}

// HubOptions configures a hub
type HubOptions struct {
	// HistorySize is the number of events retained for resuming (default: 1000)
	HistorySize int
	// SinkBuffer is the number of events queued for sinks (default: 1024)
	SinkBuffer int
}

// DefaultHubOptions returns default options
func DefaultHubOptions() *HubOptions {
	return &HubOptions{
		HistorySize: 1000,
		SinkBuffer:  1024,
	}
}

// Hub turns a database's committed writes into a sequence of change events
// and fans them out to change streams and sinks
type Hub struct {
	dbName  string
	options *HubOptions
	unwatch func()

	mu      sync.Mutex
	seq     uint64
	history []*ChangeEvent // oldest first, at most HistorySize
	streams map[string]*ChangeStream
	closed  bool
	dropped uint64

	sinkMu  sync.RWMutex
	sinks   []Sink
	sinkCh  chan *ChangeEvent
	sinkWG  sync.WaitGroup
}

// NewHub attaches a hub to db
func NewHub(db *database.Database, options *HubOptions) *Hub {
	if options == nil {
		options = DefaultHubOptions()
	}
	if options.HistorySize <= 0 {
		options.HistorySize = DefaultHubOptions().HistorySize
	}
	if options.SinkBuffer <= 0 {
		options.SinkBuffer = DefaultHubOptions().SinkBuffer
	}

	h := &Hub{
		dbName:  db.Name(),
		options: options,
		streams: make(map[string]*ChangeStream),
		sinkCh:  make(chan *ChangeEvent, options.SinkBuffer),
	}
	h.sinkWG.Add(1)
	go h.sinkLoop()
	h.unwatch = db.Watch(h.publish)
	return h
}

// publish is the database listener. It must not block.
func (h *Hub) publish(e database.ChangeEvent) {
	event := fromDatabaseEvent(h.dbName, e)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.seq++
	event.ID = ResumeToken{Seq: h.seq}
	h.history = append(h.history, event)
	if over := len(h.history) - h.options.HistorySize; over > 0 {
		h.history = append(h.history[:0:0], h.history[over:]...)
	}
	for id, cs := range h.streams {
		if !cs.deliver(event) {
			delete(h.streams, id)
		}
	}

	// sinkCh is closed only after closed is set, so the send is safe here
	select {
	case h.sinkCh <- event:
	default:
		h.dropped++
		log.Printf("changestream: sink queue full, dropped event %s", event.ID)
	}
	h.mu.Unlock()
}

// Watch opens a change stream. With ResumeAfter set, the retained events
// after the token are delivered first.
func (h *Hub) Watch(options *ChangeStreamOptions) (*ChangeStream, error) {
	if options == nil {
		options = DefaultChangeStreamOptions()
	}
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultChangeStreamOptions().BatchSize
	}
	if options.FullDocument == "" {
		options.FullDocument = FullDocumentDefault
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrStreamClosed
	}

	var backlog []*ChangeEvent
	if options.ResumeAfter != nil {
		var err error
		backlog, err = h.since(*options.ResumeAfter)
		if err != nil {
			return nil, err
		}
	}

	cs, err := newChangeStream(uuid.NewString(), h, options, len(backlog))
	if err != nil {
		return nil, err
	}
	if options.ResumeAfter == nil {
		cs.currentResumeToken = ResumeToken{Seq: h.seq}
	}
	for _, event := range backlog {
		cs.deliver(event)
	}
	h.streams[cs.id] = cs
	return cs, nil
}

// since returns the retained events after token. Caller must hold mu.
func (h *Hub) since(token ResumeToken) ([]*ChangeEvent, error) {
	if token.Seq > h.seq {
		return nil, fmt.Errorf("%w: %s is ahead of the stream", ErrResumeTokenExpired, token)
	}
	if token.Seq == h.seq {
		return nil, nil
	}
	if len(h.history) == 0 || h.history[0].ID.Seq > token.Seq+1 {
		return nil, fmt.Errorf("%w: %s", ErrResumeTokenExpired, token)
	}
	start := int(token.Seq + 1 - h.history[0].ID.Seq)
	return h.history[start:], nil
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.streams, id)
	h.mu.Unlock()
}

// CurrentToken returns the token of the latest event
func (h *Hub) CurrentToken() ResumeToken {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ResumeToken{Seq: h.seq}
}

// StreamCount returns the number of open change streams
func (h *Hub) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// AddSink registers a sink for events published from now on
func (h *Hub) AddSink(sink Sink) {
	h.sinkMu.Lock()
	h.sinks = append(h.sinks, sink)
	h.sinkMu.Unlock()
}

func (h *Hub) sinkLoop() {
	defer h.sinkWG.Done()
	for event := range h.sinkCh {
		h.sinkMu.RLock()
		sinks := h.sinks
		h.sinkMu.RUnlock()
		for _, sink := range sinks {
			if err := sink.Send(event); err != nil {
				log.Printf("changestream: sink failed for event %s on %s: %v", event.ID, event.Collection, err)
			}
		}
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.Lock()
	stats := map[string]interface{}{
		"streams":   len(h.streams),
		"sequence":  h.seq,
		"retained":  len(h.history),
		"sinkQueue": len(h.sinkCh),
		"dropped":   h.dropped,
	}
	h.mu.Unlock()

	h.sinkMu.RLock()
	stats["sinks"] = len(h.sinks)
	h.sinkMu.RUnlock()
	return stats
}

// Close detaches the hub from the database, closes every stream and
// flushes and closes the sinks
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	streams := h.streams
	h.streams = make(map[string]*ChangeStream)
	h.mu.Unlock()

	h.unwatch()
	for _, cs := range streams {
		cs.fail(ErrStreamClosed)
	}

	close(h.sinkCh)
	h.sinkWG.Wait()

	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
