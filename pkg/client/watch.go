package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mnohosten/streamhub/pkg/document"
)

// ErrStreamClosed is returned by Next after Close
var ErrStreamClosed = errors.New("change stream closed")

// StreamError is an error sent by the server over a change stream, such
// as a lagged consumer. Reconnecting with ResumeAfter set to ResumeToken
// continues where the stream stopped.
type StreamError struct {
	Message     string
	ResumeToken string
}

func (e *StreamError) Error() string {
	return "change stream error: " + e.Message
}

// WatchOptions selects the events a change stream delivers
type WatchOptions struct {
	// Collection limits events to one collection; empty watches all
	Collection     string
	OperationTypes []string
	// Filter is matched against the event, e.g.
	// {"fullDocument.rating": {"$gte": 4}}
	Filter *document.Document
	// FullDocument is "default" or "updateLookup"
	FullDocument string
	ResumeAfter  string
	BatchSize    int
}

func (o *WatchOptions) toDocument() *document.Document {
	req := document.NewDocument()
	if o == nil {
		return req
	}
	if o.Collection != "" {
		req.Set("collection", o.Collection)
	}
	if len(o.OperationTypes) > 0 {
		types := make([]interface{}, len(o.OperationTypes))
		for i, t := range o.OperationTypes {
			types[i] = t
		}
		req.Set("operationTypes", types)
	}
	if o.Filter != nil {
		req.Set("filter", o.Filter)
	}
	if o.FullDocument != "" {
		req.Set("fullDocument", o.FullDocument)
	}
	if o.ResumeAfter != "" {
		req.Set("resumeAfter", o.ResumeAfter)
	}
	if o.BatchSize > 0 {
		req.Set("batchSize", int64(o.BatchSize))
	}
	return req
}

// ChangeEvent is one insert, update or delete delivered by a stream
type ChangeEvent struct {
	ResumeToken   string
	OperationType string
	Database      string
	Collection    string
	DocumentKey   interface{}
	// FullDocument is set for inserts and for updates with updateLookup
	FullDocument  *document.Document
	UpdatedFields *document.Document
	RemovedFields []string
	// Raw is the event as received
	Raw *document.Document
}

func parseChangeEvent(raw *document.Document) *ChangeEvent {
	event := &ChangeEvent{
		ResumeToken:   stringField(raw, "_id"),
		OperationType: stringField(raw, "operationType"),
		FullDocument:  docField(raw, "fullDocument"),
		Raw:           raw,
	}
	if ns := docField(raw, "ns"); ns != nil {
		event.Database = stringField(ns, "db")
		event.Collection = stringField(ns, "coll")
	}
	if key := docField(raw, "documentKey"); key != nil {
		event.DocumentKey, _ = key.Get("_id")
	}
	if desc := docField(raw, "updateDescription"); desc != nil {
		event.UpdatedFields = docField(desc, "updatedFields")
		removed, _ := desc.Get("removedFields")
		items, _ := removed.([]interface{})
		for _, item := range items {
			if field, ok := item.(string); ok {
				event.RemovedFields = append(event.RemovedFields, field)
			}
		}
	}
	return event
}

// ChangeStream receives change events over a WebSocket
type ChangeStream struct {
	conn     *websocket.Conn
	messages chan *document.Document
	done     chan struct{}
	readErr  error

	mu          sync.Mutex
	resumeToken string
	closeOnce   sync.Once
}

// Watch opens a change stream. The first server message either confirms
// the stream or reports why it was rejected.
func (c *Client) Watch(ctx context.Context, opts *WatchOptions) (*ChangeStream, error) {
	header := http.Header{}
	c.setHeaders(header)

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/_ws/watch"
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{StatusCode: resp.StatusCode, Type: http.StatusText(resp.StatusCode), Message: err.Error()}
		}
		return nil, fmt.Errorf("failed to connect change stream: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	if err := conn.WriteJSON(opts.toDocument()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send watch request: %w", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read watch acknowledgment: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	ack, err := document.ParseJSON(data)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("invalid watch acknowledgment: %w", err)
	}
	if stringField(ack, "type") != "connected" {
		conn.Close()
		return nil, &StreamError{Message: stringField(ack, "error"), ResumeToken: stringField(ack, "resumeToken")}
	}

	cs := &ChangeStream{
		conn:        conn,
		messages:    make(chan *document.Document, 16),
		done:        make(chan struct{}),
		resumeToken: stringField(ack, "resumeToken"),
	}
	go cs.readLoop()
	return cs, nil
}

func (cs *ChangeStream) readLoop() {
	defer close(cs.messages)
	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			cs.readErr = err
			return
		}
		msg, err := document.ParseJSON(data)
		if err != nil {
			cs.readErr = fmt.Errorf("invalid change stream message: %w", err)
			return
		}
		select {
		case cs.messages <- msg:
		case <-cs.done:
			return
		}
	}
}

// Next blocks until the next event arrives. Heartbeats are consumed
// silently.
func (cs *ChangeStream) Next(ctx context.Context) (*ChangeEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-cs.done:
			return nil, ErrStreamClosed
		case msg, ok := <-cs.messages:
			if !ok {
				select {
				case <-cs.done:
					return nil, ErrStreamClosed
				default:
				}
				return nil, fmt.Errorf("change stream connection lost: %w", cs.readErr)
			}

			token := stringField(msg, "resumeToken")
			if token != "" {
				cs.mu.Lock()
				cs.resumeToken = token
				cs.mu.Unlock()
			}

			switch stringField(msg, "type") {
			case "event":
				if raw := docField(msg, "event"); raw != nil {
					return parseChangeEvent(raw), nil
				}
			case "error":
				return nil, &StreamError{Message: stringField(msg, "error"), ResumeToken: token}
			}
		}
	}
}

// ResumeToken returns the token of the last event or heartbeat received
func (cs *ChangeStream) ResumeToken() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.resumeToken
}

// Close closes the stream
func (cs *ChangeStream) Close() error {
	var err error
	cs.closeOnce.Do(func() {
		close(cs.done)
		err = cs.conn.Close()
	})
	return err
}
