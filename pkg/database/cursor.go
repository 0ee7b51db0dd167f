package database

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/mnohosten/streamhub/pkg/aggregation"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

// Cursor iterates over query results. It visits a snapshot of the record
// set taken by Find and reads each document under its record lock when it
// gets there, so deletes that happen before the visit are not returned.
// A cursor is consumed once.
type Cursor struct {
	mu       sync.Mutex
	filter   *query.Filter
	records  []*record
	position int
	stream   aggregation.Stream // set when options or a pipeline wrap the scan
	returned int
}

func newCursor(filter *query.Filter, records []*record) *Cursor {
	return &Cursor{
		filter:  filter,
		records: records,
	}
}

// through wraps the cursor's output in a pipeline
func (c *Cursor) through(p *aggregation.Pipeline) *Cursor {
	scan := &Cursor{filter: c.filter, records: c.records}
	return &Cursor{stream: p.Stream(aggregation.StreamFunc(scan.scan))}
}

// Next returns the next document, or io.EOF when the cursor is exhausted
func (c *Cursor) Next(ctx context.Context) (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doc *document.Document
	var err error
	if c.stream != nil {
		doc, err = c.stream.Next(ctx)
	} else {
		doc, err = c.scan(ctx)
	}
	if err == nil {
		c.returned++
	}
	return doc, err
}

// scan advances over the snapshot until a live matching document is found
func (c *Cursor) scan(ctx context.Context) (*document.Document, error) {
	for c.position < len(c.records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := c.records[c.position]
		c.position++

		r.mu.RLock()
		if !r.deleted && c.filter.Matches(r.doc) {
			doc := r.doc.Clone()
			r.mu.RUnlock()
			return doc, nil
		}
		r.mu.RUnlock()
	}
	return nil, io.EOF
}

// All drains the cursor
func (c *Cursor) All(ctx context.Context) ([]*document.Document, error) {
	docs := make([]*document.Document, 0)
	for {
		doc, err := c.Next(ctx)
		if isEOF(err) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Returned reports how many documents the cursor has produced so far
func (c *Cursor) Returned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.returned
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
