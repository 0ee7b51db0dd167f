package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Collection represents a database collection
type Collection struct {
	client *Client
	name   string
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) path(suffix string) string {
	return "/" + url.PathEscape(c.name) + suffix
}

func (c *Collection) docPath(id string) string {
	return c.path("/_doc/" + url.PathEscape(id))
}

// InsertOne inserts a single document and returns its id. Generated
// ObjectIDs are returned as hex strings, which FindByID accepts.
func (c *Collection) InsertOne(ctx context.Context, doc *document.Document) (string, error) {
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_doc"), doc)
	if err != nil {
		return "", err
	}
	result, err := resultDocument(env)
	if err != nil {
		return "", err
	}
	id, _ := result.Get("id")
	return idString(id), nil
}

// InsertOneWithID inserts a document with a specific ID
func (c *Collection) InsertOneWithID(ctx context.Context, id string, doc *document.Document) error {
	_, err := c.client.doRequest(ctx, http.MethodPost, c.docPath(id), doc)
	return err
}

// FindByID retrieves a single document by ID
func (c *Collection) FindByID(ctx context.Context, id string) (*document.Document, error) {
	env, err := c.client.doRequest(ctx, http.MethodGet, c.docPath(id), nil)
	if err != nil {
		return nil, err
	}
	return resultDocument(env)
}

// UpdateByID applies update operators to a document by ID
func (c *Collection) UpdateByID(ctx context.Context, id string, update *document.Document) error {
	_, err := c.client.doRequest(ctx, http.MethodPut, c.docPath(id), update)
	return err
}

// DeleteByID deletes a single document by ID
func (c *Collection) DeleteByID(ctx context.Context, id string) error {
	_, err := c.client.doRequest(ctx, http.MethodDelete, c.docPath(id), nil)
	return err
}

// InsertMany inserts documents in order and returns their ids
func (c *Collection) InsertMany(ctx context.Context, docs []*document.Document) ([]string, error) {
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_bulk"), docs)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}

	raw, _ := result.Get("ids")
	items, _ := raw.([]interface{})
	ids := make([]string, len(items))
	for i, id := range items {
		ids[i] = idString(id)
	}
	return ids, nil
}

// BulkOperation is one write in a BulkWrite call. Type is insert, update,
// updateMany, delete or deleteMany.
type BulkOperation struct {
	Type     string
	Filter   *document.Document
	Document *document.Document
	Update   *document.Document
}

func (op BulkOperation) toDocument() *document.Document {
	doc := document.NewDocument()
	doc.Set("type", op.Type)
	if op.Filter != nil {
		doc.Set("filter", op.Filter)
	}
	if op.Document != nil {
		doc.Set("document", op.Document)
	}
	if op.Update != nil {
		doc.Set("update", op.Update)
	}
	return doc
}

// BulkWriteError reports one failed operation
type BulkWriteError struct {
	Index   int
	Type    string
	Message string
}

// BulkWriteResult summarizes a BulkWrite call
type BulkWriteResult struct {
	InsertedCount int
	ModifiedCount int
	DeletedCount  int
	InsertedIDs   []string
	Errors        []BulkWriteError
}

// BulkWrite runs a list of operations. Ordered writes stop at the first
// failure. When any operation fails the partial result is returned along
// with an *APIError of type BulkWriteError.
func (c *Collection) BulkWrite(ctx context.Context, operations []BulkOperation, ordered bool) (*BulkWriteResult, error) {
	ops := make([]interface{}, len(operations))
	for i, op := range operations {
		ops[i] = op.toDocument()
	}
	body := document.NewDocument()
	body.Set("operations", ops)

	path := c.path("/_bulkWrite")
	if !ordered {
		path += "?ordered=false"
	}

	env, reqErr := c.client.doRequest(ctx, http.MethodPost, path, body)
	if reqErr != nil {
		var apiErr *APIError
		if env == nil || !errors.As(reqErr, &apiErr) || apiErr.Type != "BulkWriteError" {
			return nil, reqErr
		}
	}

	// Partial failures report counts at the top level
	summary := env
	if reqErr == nil {
		var err error
		if summary, err = resultDocument(env); err != nil {
			return nil, err
		}
	}

	result := &BulkWriteResult{
		InsertedCount: intField(summary, "insertedCount"),
		ModifiedCount: intField(summary, "modifiedCount"),
		DeletedCount:  intField(summary, "deletedCount"),
	}
	raw, _ := summary.Get("insertedIds")
	ids, _ := raw.([]interface{})
	for _, id := range ids {
		result.InsertedIDs = append(result.InsertedIDs, idString(id))
	}
	failures, _ := docsField(summary, "errors")
	for _, f := range failures {
		result.Errors = append(result.Errors, BulkWriteError{
			Index:   intField(f, "index"),
			Type:    stringField(f, "type"),
			Message: stringField(f, "message"),
		})
	}
	return result, reqErr
}

// FindOptions controls sorting, projection and pagination of Find
type FindOptions struct {
	Sort       *document.Document
	Projection *document.Document
	Limit      int
	Skip       int
}

func searchBody(filter *document.Document, opts *FindOptions) *document.Document {
	body := document.NewDocument()
	if filter != nil {
		body.Set("filter", filter)
	}
	if opts != nil {
		if opts.Sort != nil {
			body.Set("sort", opts.Sort)
		}
		if opts.Projection != nil {
			body.Set("projection", opts.Projection)
		}
		if opts.Limit > 0 {
			body.Set("limit", int64(opts.Limit))
		}
		if opts.Skip > 0 {
			body.Set("skip", int64(opts.Skip))
		}
	}
	return body
}

// Find returns every document matching filter
func (c *Collection) Find(ctx context.Context, filter *document.Document, opts *FindOptions) ([]*document.Document, error) {
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_search"), searchBody(filter, opts))
	if err != nil {
		return nil, err
	}
	return docsField(env, "result")
}

// FindOne returns the first document matching filter, or ErrNoDocuments
func (c *Collection) FindOne(ctx context.Context, filter *document.Document) (*document.Document, error) {
	docs, err := c.Find(ctx, filter, &FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs[0], nil
}

// Count counts documents matching filter; nil counts the collection
func (c *Collection) Count(ctx context.Context, filter *document.Document) (int, error) {
	var env *document.Document
	var err error
	if filter == nil {
		env, err = c.client.doRequest(ctx, http.MethodGet, c.path("/_count"), nil)
	} else {
		env, err = c.client.doRequest(ctx, http.MethodPost, c.path("/_count"), searchBody(filter, nil))
	}
	if err != nil {
		return 0, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return 0, err
	}
	return intField(result, "count"), nil
}

func (c *Collection) update(ctx context.Context, suffix string, filter, update *document.Document) (int, error) {
	body := searchBody(filter, nil)
	body.Set("update", update)
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path(suffix), body)
	if err != nil {
		return 0, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return 0, err
	}
	return intField(result, "modifiedCount"), nil
}

// UpdateOne applies update to the first document matching filter and
// returns the number modified
func (c *Collection) UpdateOne(ctx context.Context, filter, update *document.Document) (int, error) {
	return c.update(ctx, "/_update", filter, update)
}

// UpdateMany applies update to every document matching filter
func (c *Collection) UpdateMany(ctx context.Context, filter, update *document.Document) (int, error) {
	return c.update(ctx, "/_updateMany", filter, update)
}

// DeleteMany deletes every document matching filter. A nil filter is sent
// as {} and clears the collection.
func (c *Collection) DeleteMany(ctx context.Context, filter *document.Document) (int, error) {
	if filter == nil {
		filter = document.NewDocument()
	}
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_delete"), searchBody(filter, nil))
	if err != nil {
		return 0, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return 0, err
	}
	return intField(result, "deletedCount"), nil
}

// Explain reports whether a query on filter would use an index
func (c *Collection) Explain(ctx context.Context, filter *document.Document) (*document.Document, error) {
	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_explain"), searchBody(filter, nil))
	if err != nil {
		return nil, err
	}
	return resultDocument(env)
}

// Validate checks doc against the collection's catalog model without
// writing it. Failures are *APIError values with per-field Details.
func (c *Collection) Validate(ctx context.Context, doc *document.Document) error {
	_, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_validate"), doc)
	return err
}

// Stats retrieves collection statistics
func (c *Collection) Stats(ctx context.Context) (*document.Document, error) {
	env, err := c.client.doRequest(ctx, http.MethodGet, c.path("/_stats"), nil)
	if err != nil {
		return nil, err
	}
	return resultDocument(env)
}

// Drop drops the collection
func (c *Collection) Drop(ctx context.Context) error {
	return c.client.DropCollection(ctx, c.name)
}

// Export writes the collection to w as "json" or "csv". fields selects
// the CSV columns; empty means every top-level field.
func (c *Collection) Export(ctx context.Context, w io.Writer, format string, fields ...string) error {
	q := url.Values{}
	if format != "" {
		q.Set("format", format)
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	path := c.path("/_export")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.client.doRaw(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	return nil
}

// Import inserts a JSON array or CSV rows read from r and returns the
// number of documents inserted
func (c *Collection) Import(ctx context.Context, r io.Reader, format string) (int, error) {
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv"
	}
	path := c.path("/_import")
	if format != "" {
		path += "?format=" + url.QueryEscape(format)
	}

	resp, err := c.client.doRaw(ctx, http.MethodPost, path, contentType, r)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	env, err := decodeResponse(resp)
	if err != nil {
		return 0, err
	}
	return intField(env, "count"), nil
}
