package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/document"
)

// WebSocket upgrader with default settings
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (can be restricted in production)
		return true
	},
}

// ChangeStreamManager manages active change stream connections
type ChangeStreamManager struct {
	hub               *changestream.Hub
	heartbeatInterval time.Duration
	connections       map[string]*ChangeStreamConnection
	mu                sync.RWMutex
}

// ChangeStreamConnection represents an active WebSocket connection with a change stream
type ChangeStreamConnection struct {
	id         string
	conn       *websocket.Conn
	stream     *changestream.ChangeStream
	cancelFunc context.CancelFunc
	mu         sync.Mutex
	closeOnce  sync.Once
}

// NewChangeStreamManager creates a change stream manager over hub
func NewChangeStreamManager(hub *changestream.Hub, heartbeatInterval time.Duration) *ChangeStreamManager {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &ChangeStreamManager{
		hub:               hub,
		heartbeatInterval: heartbeatInterval,
		connections:       make(map[string]*ChangeStreamConnection),
	}
}

// Close closes all active connections. The hub is left open.
func (m *ChangeStreamManager) Close() error {
	m.mu.Lock()
	connections := m.connections
	m.connections = make(map[string]*ChangeStreamConnection)
	m.mu.Unlock()

	for _, conn := range connections {
		conn.Close()
	}
	return nil
}

// Count returns the number of active connections
func (m *ChangeStreamManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ChangeStreamManager) addConnection(conn *ChangeStreamConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.id] = conn
}

func (m *ChangeStreamManager) removeConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, id)
}

// Close closes a change stream connection
func (c *ChangeStreamConnection) Close() {
	c.closeOnce.Do(func() {
		if c.cancelFunc != nil {
			c.cancelFunc()
		}
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		c.conn.Close()
	})
}

// send writes one message; writes from the event loop and the heartbeat
// are serialized
func (c *ChangeStreamConnection) send(response ChangeStreamResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(response)
}

// ChangeStreamResponse represents a response sent over WebSocket
type ChangeStreamResponse struct {
	Type        string                    `json:"type"` // "connected", "event", "error", "heartbeat"
	Event       *changestream.ChangeEvent `json:"event,omitempty"`
	ResumeToken string                    `json:"resumeToken,omitempty"`
	Error       string                    `json:"error,omitempty"`
	Message     string                    `json:"message,omitempty"`
}

// parseChangeStreamRequest reads the client's opening message:
//
//	{"collection": "ratings", "operationTypes": ["insert"],
//	 "filter": {"fullDocument.rating": {"$gte": 4}},
//	 "fullDocument": "updateLookup", "resumeAfter": "42"}
func parseChangeStreamRequest(data []byte) (*changestream.ChangeStreamOptions, error) {
	req, err := document.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	options := changestream.DefaultChangeStreamOptions()

	if v, ok := req.Get("collection"); ok {
		name, isString := v.(string)
		if !isString {
			return nil, errors.New("collection must be a string")
		}
		options.Collection = name
	}
	if v, ok := req.Get("operationTypes"); ok {
		types, isArray := v.([]interface{})
		if !isArray {
			return nil, errors.New("operationTypes must be an array")
		}
		for _, t := range types {
			opType, _ := t.(string)
			switch changestream.OperationType(opType) {
			case changestream.OperationTypeInsert, changestream.OperationTypeUpdate,
				changestream.OperationTypeDelete, changestream.OperationTypeDrop:
				options.OperationTypes = append(options.OperationTypes, changestream.OperationType(opType))
			default:
				return nil, fmt.Errorf("unknown operation type %v", t)
			}
		}
	}
	if options.Filter, err = subDocument(req, "filter"); err != nil {
		return nil, err
	}
	if v, ok := req.Get("fullDocument"); ok {
		switch opt := changestream.FullDocumentOption(fmt.Sprint(v)); opt {
		case changestream.FullDocumentDefault, changestream.FullDocumentUpdateLookup:
			options.FullDocument = opt
		default:
			return nil, fmt.Errorf("unknown fullDocument option %v", v)
		}
	}
	if v, ok := req.Get("resumeAfter"); ok {
		token, err := changestream.ParseResumeToken(fmt.Sprint(v))
		if err != nil {
			return nil, err
		}
		options.ResumeAfter = &token
	}
	if batch, err := intField(req, "batchSize"); err != nil {
		return nil, err
	} else if batch > 0 {
		options.BatchSize = batch
	}
	return options, nil
}

// HandleChangeStream handles WebSocket connections for change streams
func (h *Handlers) HandleChangeStream(manager *ChangeStreamManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		wsConn := &ChangeStreamConnection{
			conn:       conn,
			cancelFunc: cancel,
		}

		// The first message configures the stream
		_, data, err := conn.ReadMessage()
		if err != nil {
			wsConn.Close()
			return
		}
		options, err := parseChangeStreamRequest(data)
		if err != nil {
			wsConn.send(ChangeStreamResponse{Type: "error", Error: err.Error()})
			wsConn.Close()
			return
		}
		stream, err := manager.hub.Watch(options)
		if err != nil {
			wsConn.send(ChangeStreamResponse{Type: "error", Error: err.Error()})
			wsConn.Close()
			return
		}

		wsConn.id = stream.ID()
		wsConn.mu.Lock()
		wsConn.stream = stream
		wsConn.mu.Unlock()

		manager.addConnection(wsConn)
		h.metrics.RecordConnectionStart()
		defer func() {
			manager.removeConnection(wsConn.id)
			h.metrics.RecordConnectionEnd()
			wsConn.Close()
		}()

		ack := ChangeStreamResponse{
			Type:        "connected",
			ResumeToken: stream.ResumeToken().String(),
			Message:     "Change stream connected successfully",
		}
		if err := wsConn.send(ack); err != nil {
			log.Printf("Failed to send acknowledgment: %v", err)
			return
		}

		// Heartbeat to keep the connection alive
		go func() {
			ticker := time.NewTicker(manager.heartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					err := wsConn.send(ChangeStreamResponse{
						Type:        "heartbeat",
						ResumeToken: stream.ResumeToken().String(),
					})
					if err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Any read error means the client went away
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					cancel()
					return
				}
			}
		}()

		for {
			event, err := stream.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Lagged or closed streams report where to resume from
				wsConn.send(ChangeStreamResponse{
					Type:        "error",
					Error:       err.Error(),
					ResumeToken: stream.ResumeToken().String(),
				})
				return
			}

			response := ChangeStreamResponse{
				Type:        "event",
				Event:       event,
				ResumeToken: event.ID.String(),
			}
			if err := wsConn.send(response); err != nil {
				log.Printf("Failed to send event: %v", err)
				return
			}
		}
	}
}
