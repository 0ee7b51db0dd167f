package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mnohosten/streamhub/pkg/connstring"
	"github.com/mnohosten/streamhub/pkg/document"
)

// Client is a StreamHub HTTP API client
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Config holds configuration for the client
type Config struct {
	// Host is the server hostname or IP address (default: "localhost")
	Host string
	// Port is the server port (default: 8080)
	Port int
	// TLS switches to https and wss
	TLS bool
	// TLSConfig overrides the TLS settings of both transports
	TLSConfig *tls.Config
	// APIKey is sent as a Bearer token when set
	APIKey string
	// AppName is sent as the User-Agent
	AppName string
	// Timeout is the HTTP request timeout (default: 30s). Change streams
	// are not affected.
	Timeout time.Duration
	// MaxIdleConns is the maximum number of idle connections (default: 10)
	MaxIdleConns int
	// MaxConnsPerHost is the maximum connections per host (default: 10)
	MaxConnsPerHost int
}

// DefaultConfig returns the default client configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		Timeout:         30 * time.Second,
		MaxIdleConns:    10,
		MaxConnsPerHost: 10,
	}
}

// NewClient creates a new client with the given configuration
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Apply defaults for unset fields
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxConnsPerHost == 0 {
		config.MaxConnsPerHost = 10
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		MaxIdleConnsPerHost: config.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     config.TLSConfig,
	}

	scheme := "http"
	if config.TLS {
		scheme = "https"
	}

	return &Client{
		baseURL:   fmt.Sprintf("%s://%s:%d", scheme, config.Host, config.Port),
		apiKey:    config.APIKey,
		userAgent: config.AppName,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.Timeout,
			TLSClientConfig:  config.TLSConfig,
		},
	}
}

// NewDefaultClient creates a client with default configuration
func NewDefaultClient() *Client {
	return NewClient(DefaultConfig())
}

// Connect creates a client from a connection string such as
// streamhub://apikey@localhost:8080?timeout=10s
func Connect(uri string) (*Client, error) {
	cs, err := connstring.Parse(uri)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Host:            cs.Host,
		Port:            cs.Port,
		TLS:             cs.Options.TLS,
		APIKey:          cs.Options.APIKey,
		AppName:         cs.Options.AppName,
		Timeout:         cs.Options.Timeout,
		MaxIdleConns:    cs.Options.MaxConnections,
		MaxConnsPerHost: cs.Options.MaxConnections,
	}
	if cs.Options.TLS && (cs.Options.TLSInsecure || cs.Options.TLSCAFile != "") {
		config.TLSConfig = &tls.Config{InsecureSkipVerify: cs.Options.TLSInsecure}
		if cs.Options.TLSCAFile != "" {
			pem, err := os.ReadFile(cs.Options.TLSCAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cs.Options.TLSCAFile)
			}
			config.TLSConfig.RootCAs = pool
		}
	}

	return NewClient(config), nil
}

// APIError is an error reported by the server
type APIError struct {
	StatusCode int
	// Type is the server's error name, e.g. DocumentNotFound or DuplicateKey
	Type    string
	Message string
	// Details carries per-field validation failures
	Details []*document.Document
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Type, e.Message)
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsDuplicateKey reports whether err is a unique index violation
func IsDuplicateKey(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Type == "DuplicateKey"
}

// ErrNoDocuments is returned by FindOne when nothing matches
var ErrNoDocuments = errors.New("no documents in result")

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req.Header)
	return req, nil
}

func (c *Client) setHeaders(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
}

// doRequest sends a JSON request and returns the decoded response
// envelope. Documents are decoded with field order intact.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*document.Document, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// doRaw sends a non-JSON body and returns the response for the caller to
// stream. Error responses are decoded and closed.
func (c *Client) doRaw(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		_, err := decodeResponse(resp)
		if err == nil {
			err = &APIError{StatusCode: resp.StatusCode, Type: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}
	return resp, nil
}

func decodeResponse(resp *http.Response) (*document.Document, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	env, err := document.ParseJSON(data)
	if err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Type:       http.StatusText(resp.StatusCode),
				Message:    strings.TrimSpace(string(data)),
			}
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if ok, _ := env.Get("ok"); ok != true {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Type:       stringField(env, "error"),
			Message:    stringField(env, "message"),
		}
		apiErr.Details, _ = docsField(env, "details")
		return env, apiErr
	}
	return env, nil
}

func stringField(doc *document.Document, field string) string {
	v, _ := doc.Get(field)
	s, _ := v.(string)
	return s
}

func intField(doc *document.Document, field string) int {
	v, _ := doc.Get(field)
	n, _ := document.ToInt64(v)
	return int(n)
}

func boolField(doc *document.Document, field string) bool {
	v, _ := doc.Get(field)
	b, _ := v.(bool)
	return b
}

func docField(doc *document.Document, field string) *document.Document {
	v, _ := doc.Get(field)
	d, _ := v.(*document.Document)
	return d
}

// docsField reads an array of documents; a missing or null field is empty
func docsField(doc *document.Document, field string) ([]*document.Document, error) {
	v, ok := doc.Get(field)
	if !ok || v == nil {
		return []*document.Document{}, nil
	}
	return document.DocumentsFrom(v)
}

// resultDocument returns the envelope's result as a document
func resultDocument(env *document.Document) (*document.Document, error) {
	result := docField(env, "result")
	if result == nil {
		return nil, errors.New("response has no result document")
	}
	return result, nil
}

// idString renders an id the way the server accepts it in a path.
// ObjectIDs arrive as 24-character hex strings.
func idString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if oid, ok := v.(document.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprint(v)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string
	Uptime        string
	Time          string
	ChangeStreams int
}

// Health checks the server health
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/_health", nil)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		Status:        stringField(result, "status"),
		Uptime:        stringField(result, "uptime"),
		Time:          stringField(result, "time"),
		ChangeStreams: intField(result, "changeStreams"),
	}, nil
}

// Stats retrieves database, change stream and operation statistics
func (c *Client) Stats(ctx context.Context) (*document.Document, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/_stats", nil)
	if err != nil {
		return nil, err
	}
	return resultDocument(env)
}

// ListCollections returns the names of all collections
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/_collections", nil)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}

	raw, _ := result.Get("collections")
	items, _ := raw.([]interface{})
	names := make([]string, 0, len(items))
	for _, item := range items {
		if name, ok := item.(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Collection returns a collection handle for the given name
func (c *Client) Collection(name string) *Collection {
	return &Collection{
		client: c,
		name:   name,
	}
}

// CreateCollection creates a new collection
func (c *Client) CreateCollection(ctx context.Context, name string) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/"+url.PathEscape(name), nil)
	return err
}

// DropCollection drops a collection
func (c *Client) DropCollection(ctx context.Context, name string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/"+url.PathEscape(name), nil)
	return err
}

// Close closes the client and releases resources
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
