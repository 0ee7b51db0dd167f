package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
)

// CursorOptions configures a server-side cursor
type CursorOptions struct {
	FindOptions
	// BatchSize is the number of documents per batch (server default 100)
	BatchSize int
	// Timeout closes the cursor after this much idle time
	Timeout time.Duration
}

// Cursor pages through a result set held by the server
type Cursor struct {
	client  *Client
	id      string
	batch   []*document.Document
	hasMore bool
}

// OpenCursor runs a query and returns a cursor positioned on its first
// batch
func (c *Collection) OpenCursor(ctx context.Context, filter *document.Document, opts *CursorOptions) (*Cursor, error) {
	var findOpts *FindOptions
	if opts != nil {
		findOpts = &opts.FindOptions
	}
	body := searchBody(filter, findOpts)
	body.Set("collection", c.name)
	if opts != nil {
		if opts.BatchSize > 0 {
			body.Set("batchSize", int64(opts.BatchSize))
		}
		if opts.Timeout > 0 {
			body.Set("timeout", opts.Timeout.String())
		}
	}

	env, err := c.client.doRequest(ctx, http.MethodPost, "/_cursors", body)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}
	batch, err := docsField(result, "documents")
	if err != nil {
		return nil, err
	}
	return &Cursor{
		client:  c.client,
		id:      stringField(result, "cursorId"),
		batch:   batch,
		hasMore: boolField(result, "hasMore"),
	}, nil
}

// ID returns the server's cursor id; empty once the cursor is exhausted
func (cur *Cursor) ID() string {
	if !cur.hasMore {
		return ""
	}
	return cur.id
}

// Batch returns the current batch
func (cur *Cursor) Batch() []*document.Document {
	return cur.batch
}

// HasMore reports whether the server holds further batches
func (cur *Cursor) HasMore() bool {
	return cur.hasMore
}

// NextBatch fetches the next batch. It returns false when the cursor is
// exhausted.
func (cur *Cursor) NextBatch(ctx context.Context) (bool, error) {
	if !cur.hasMore {
		cur.batch = nil
		return false, nil
	}

	env, err := cur.client.doRequest(ctx, http.MethodGet, "/_cursors/"+url.PathEscape(cur.id)+"/batch", nil)
	if err != nil {
		return false, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return false, err
	}
	if cur.batch, err = docsField(result, "documents"); err != nil {
		return false, err
	}
	cur.hasMore = boolField(result, "hasMore")
	return true, nil
}

// All drains the cursor, including the current batch
func (cur *Cursor) All(ctx context.Context) ([]*document.Document, error) {
	docs := append([]*document.Document(nil), cur.batch...)
	for cur.hasMore {
		if _, err := cur.NextBatch(ctx); err != nil {
			return nil, err
		}
		docs = append(docs, cur.batch...)
	}
	return docs, nil
}

// Close releases the server-side cursor. Exhausted cursors are already
// closed by the server.
func (cur *Cursor) Close(ctx context.Context) error {
	if !cur.hasMore {
		return nil
	}
	_, err := cur.client.doRequest(ctx, http.MethodDelete, "/_cursors/"+url.PathEscape(cur.id), nil)
	cur.hasMore = false
	return err
}
