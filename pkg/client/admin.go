package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
)

// SeedResult reports what SeedCatalog loaded
type SeedResult struct {
	Inserted map[string]int
	Indexes  int
}

// SeedCatalog loads the sample streaming catalog and its indexes
func (c *Client) SeedCatalog(ctx context.Context) (*SeedResult, error) {
	env, err := c.doRequest(ctx, http.MethodPost, "/_catalog/seed", nil)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}

	seed := &SeedResult{Inserted: make(map[string]int), Indexes: intField(result, "indexes")}
	if inserted := docField(result, "inserted"); inserted != nil {
		for _, name := range inserted.Keys() {
			seed.Inserted[name] = intField(inserted, name)
		}
	}
	return seed, nil
}

// Operation describes a named catalog operation
type Operation struct {
	Name        string
	Description string
	Collection  string
	Kind        string
}

// Operations lists the named catalog operations
func (c *Client) Operations(ctx context.Context) ([]Operation, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/_catalog/operations", nil)
	if err != nil {
		return nil, err
	}
	docs, err := docsField(env, "result")
	if err != nil {
		return nil, err
	}

	ops := make([]Operation, len(docs))
	for i, doc := range docs {
		ops[i] = Operation{
			Name:        stringField(doc, "name"),
			Description: stringField(doc, "description"),
			Collection:  stringField(doc, "collection"),
			Kind:        stringField(doc, "kind"),
		}
	}
	return ops, nil
}

// OperationResult is the outcome of RunOperation. Reads fill Documents;
// writes report Affected.
type OperationResult struct {
	Operation string
	Kind      string
	Documents []*document.Document
	Affected  int
}

// RunOperation runs a named catalog operation
func (c *Client) RunOperation(ctx context.Context, name string) (*OperationResult, error) {
	env, err := c.doRequest(ctx, http.MethodPost, "/_catalog/operations/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}
	docs, err := docsField(result, "documents")
	if err != nil {
		return nil, err
	}
	return &OperationResult{
		Operation: stringField(result, "operation"),
		Kind:      stringField(result, "kind"),
		Documents: docs,
		Affected:  intField(result, "affected"),
	}, nil
}

// DumpOptions selects what ExportDump writes
type DumpOptions struct {
	// Codec is zstd (default), snappy or none
	Codec string
	// Level is the zstd level; zero keeps the server default
	Level int
	// Collections limits the dump; empty dumps everything
	Collections []string
}

// ExportDump streams a compressed dump of the database to w and returns
// the number of documents it holds
func (c *Client) ExportDump(ctx context.Context, w io.Writer, opts *DumpOptions) (int, error) {
	q := url.Values{}
	if opts != nil {
		if opts.Codec != "" {
			q.Set("codec", opts.Codec)
		}
		if opts.Level != 0 {
			q.Set("level", strconv.Itoa(opts.Level))
		}
		if len(opts.Collections) > 0 {
			q.Set("collections", strings.Join(opts.Collections, ","))
		}
	}
	path := "/_export"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRaw(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return 0, fmt.Errorf("failed to read dump: %w", err)
	}
	docs, _ := strconv.Atoi(resp.Header.Get("X-Export-Documents"))
	return docs, nil
}

// ImportDump loads a dump produced by ExportDump. drop replaces existing
// collections of the same name.
func (c *Client) ImportDump(ctx context.Context, r io.Reader, drop bool) (*document.Document, error) {
	path := "/_import"
	if drop {
		path += "?drop=true"
	}
	resp, err := c.doRaw(ctx, http.MethodPost, path, "application/octet-stream", r)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	env, err := decodeResponse(resp)
	if err != nil {
		return nil, err
	}
	return resultDocument(env)
}
