// Package audit records state-changing API requests as JSON lines.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Severity of an audit event
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one audit log entry
type Event struct {
	Time       time.Time `json:"time"`
	RequestID  string    `json:"requestId,omitempty"`
	Principal  string    `json:"principal,omitempty"`
	Action     string    `json:"action"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	Status     int       `json:"status"`
	DurationMS float64   `json:"durationMs"`
	Severity   Severity  `json:"severity"`
}

// severityFor maps a response status to a severity: 4xx is a warning and
// 5xx an error
func severityFor(status int) Severity {
	switch {
	case status >= http.StatusInternalServerError:
		return SeverityError
	case status >= http.StatusBadRequest:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Logger appends events to a writer, one JSON object per line
type Logger struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	count  atomic.Int64
}

// New creates a logger writing to w
func New(w io.Writer) *Logger {
	l := &Logger{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Open creates a logger appending to the file at path
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return New(f), nil
}

// Record writes e, filling in its time and severity when unset
func (l *Logger) Record(e Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = severityFor(e.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	l.count.Add(1)
	return nil
}

// Count returns the number of events recorded
func (l *Logger) Count() int64 {
	return l.count.Load()
}

// Close closes the underlying writer if it is closable
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Classifier names the action of a request; ok is false for requests
// that are not audited
type Classifier func(r *http.Request) (action string, ok bool)

// Middleware records every request the classifier selects, after it has
// been served. principal names the caller and may be nil.
func (l *Logger) Middleware(classify Classifier, principal func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			action, ok := classify(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			e := Event{
				RequestID:  middleware.GetReqID(r.Context()),
				Action:     action,
				Method:     r.Method,
				Path:       r.URL.Path,
				RemoteAddr: r.RemoteAddr,
				Status:     status,
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			}
			if principal != nil {
				e.Principal = principal(r)
			}
			if err := l.Record(e); err != nil {
				fmt.Fprintf(os.Stderr, "audit: %v\n", err)
			}
		})
	}
}
