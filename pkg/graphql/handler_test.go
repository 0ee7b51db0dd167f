package graphql

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestHandlerServeHTTP(t *testing.T) {
	db := openDB(t)
	seedUsers(t, db)
	handler, err := NewHandler(db, nil)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	body := `{"query": "query ($f: JSON) { find(collection: \"users\", filter: $f) { _id data } }", "variables": {"f": {"city": "Quito"}}}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var response struct {
		Data struct {
			Find []struct {
				ID   string                 `json:"_id"`
				Data map[string]interface{} `json:"data"`
			} `json:"find"`
		} `json:"data"`
		Errors []interface{} `json:"errors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Errors) > 0 {
		t.Fatalf("GraphQL errors: %v", response.Errors)
	}
	if len(response.Data.Find) != 1 || response.Data.Find[0].ID != "bob" {
		t.Fatalf("Expected bob, got %+v", response.Data.Find)
	}
	if response.Data.Find[0].Data["age"] != float64(25) {
		t.Errorf("Expected the document rendered as JSON, got %v", response.Data.Find[0].Data)
	}
}

func TestHandlerGET(t *testing.T) {
	db := openDB(t)
	seedUsers(t, db)
	handler, err := NewHandler(db, nil)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	q := url.Values{}
	q.Set("query", `query Count($f: JSON) { count(collection: "users", filter: $f) }`)
	q.Set("variables", `{"f": {"city": "Lima"}}`)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var response struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Data.Count != 2 {
		t.Errorf("Expected 2 users in Lima, got %d", response.Data.Count)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	handler, err := NewHandler(openDB(t), nil)
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}

	mutation := url.Values{}
	mutation.Set("query", `mutation { createCollection(name: "x") }`)
	badVars := url.Values{}
	badVars.Set("query", `{ listCollections }`)
	badVars.Set("variables", `[1]`)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"put", http.MethodPut, "/graphql", `{"query": "{ listCollections }"}`, http.StatusMethodNotAllowed},
		{"mutation over get", http.MethodGet, "/graphql?" + mutation.Encode(), "", http.StatusMethodNotAllowed},
		{"malformed body", http.MethodPost, "/graphql", "{", http.StatusBadRequest},
		{"missing query", http.MethodPost, "/graphql", `{"variables": {}}`, http.StatusBadRequest},
		{"bad variables", http.MethodGet, "/graphql?" + badVars.Encode(), "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
			if !strings.Contains(w.Body.String(), `"errors"`) {
				t.Errorf("Expected a GraphQL error body, got %s", w.Body.String())
			}
		})
	}

	// Execution errors are reported with a 200
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query": "{ nope }"}`)))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"errors"`) {
		t.Errorf("Expected 200 with errors, got %d %s", w.Code, w.Body.String())
	}
}

func TestGraphiQLHandler(t *testing.T) {
	w := httptest.NewRecorder()
	GraphiQLHandler()(w, httptest.NewRequest(http.MethodGet, "/graphiql", nil))
	if !strings.Contains(w.Body.String(), "StreamHub GraphiQL") {
		t.Error("Expected the playground page")
	}
}
