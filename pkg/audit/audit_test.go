package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func decodeEvents(t *testing.T, data []byte) []Event {
	t.Helper()
	var events []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid audit line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func TestRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	if err := logger.Record(Event{Action: "write", Method: "POST", Path: "/users/_doc", Status: 200}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := logger.Record(Event{Action: "write", Method: "POST", Path: "/users/_doc", Status: 409}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := logger.Record(Event{Action: "import", Method: "POST", Path: "/_import", Status: 500}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	if len(events) != 3 || logger.Count() != 3 {
		t.Fatalf("Expected 3 events, got %d (count %d)", len(events), logger.Count())
	}
	expected := []Severity{SeverityInfo, SeverityWarning, SeverityError}
	for i, e := range events {
		if e.Severity != expected[i] {
			t.Errorf("Event %d: expected %s, got %s", i, expected[i], e.Severity)
		}
		if e.Time.IsZero() {
			t.Errorf("Event %d has no time", i)
		}
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	classify := func(r *http.Request) (string, bool) {
		if r.Method == http.MethodGet {
			return "", false
		}
		return "write", true
	}
	principal := func(r *http.Request) string { return "admin" }

	handler := logger.Middleware(classify, principal)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/users/_doc/1", nil),
		httptest.NewRequest(http.MethodPost, "/users/_doc", nil),
		httptest.NewRequest(http.MethodDelete, "/missing", nil),
	} {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	events := decodeEvents(t, buf.Bytes())
	if len(events) != 2 {
		t.Fatalf("Expected reads to be skipped, got %d events", len(events))
	}
	if events[0].Path != "/users/_doc" || events[0].Status != http.StatusOK || events[0].Principal != "admin" {
		t.Errorf("Unexpected first event %+v", events[0])
	}
	if events[1].Method != http.MethodDelete || events[1].Status != http.StatusNotFound || events[1].Severity != SeverityWarning {
		t.Errorf("Unexpected second event %+v", events[1])
	}
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	for i := 0; i < 2; i++ {
		logger, err := Open(path)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		logger.Record(Event{Action: "write", Method: "POST", Path: "/x", Status: 200})
		if err := logger.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	if events := decodeEvents(t, data); len(events) != 2 {
		t.Errorf("Expected 2 appended events, got %d", len(events))
	}
}
