package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mnohosten/streamhub/pkg/document"
)

// IndexOptions represents options for creating an index
type IndexOptions struct {
	// Name overrides the generated name, e.g. "type_1_genres_1"
	Name string
	// Unique rejects documents that repeat a key
	Unique bool
}

// IndexInfo describes an index on a collection
type IndexInfo struct {
	Name       string
	Key        *document.Document
	Unique     bool
	IsCompound bool
	// Stats holds the server's selectivity statistics
	Stats *document.Document
}

// CreateIndex creates an index on keys such as {"type": 1, "genres": 1}
// and returns its name
func (c *Collection) CreateIndex(ctx context.Context, keys *document.Document, opts *IndexOptions) (string, error) {
	body := document.NewDocument()
	body.Set("keys", keys)
	if opts != nil {
		if opts.Name != "" {
			body.Set("name", opts.Name)
		}
		if opts.Unique {
			body.Set("unique", true)
		}
	}

	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_index"), body)
	if err != nil {
		return "", err
	}
	result, err := resultDocument(env)
	if err != nil {
		return "", err
	}
	return stringField(result, "name"), nil
}

// ListIndexes lists all indexes on the collection
func (c *Collection) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	env, err := c.client.doRequest(ctx, http.MethodGet, c.path("/_index"), nil)
	if err != nil {
		return nil, err
	}
	result, err := resultDocument(env)
	if err != nil {
		return nil, err
	}
	docs, err := docsField(result, "indexes")
	if err != nil {
		return nil, err
	}

	indexes := make([]IndexInfo, len(docs))
	for i, doc := range docs {
		indexes[i] = IndexInfo{
			Name:       stringField(doc, "name"),
			Key:        docField(doc, "key"),
			Unique:     boolField(doc, "unique"),
			IsCompound: boolField(doc, "is_compound"),
			Stats:      doc,
		}
	}
	return indexes, nil
}

// DropIndex drops an index by name
func (c *Collection) DropIndex(ctx context.Context, name string) error {
	_, err := c.client.doRequest(ctx, http.MethodDelete, c.path("/_index/"+url.PathEscape(name)), nil)
	return err
}

// CreateSingleFieldIndex creates an ascending index on one field
func (c *Collection) CreateSingleFieldIndex(ctx context.Context, field string, unique bool) (string, error) {
	keys := document.NewDocument()
	keys.Set(field, int64(1))
	return c.CreateIndex(ctx, keys, &IndexOptions{Unique: unique})
}
