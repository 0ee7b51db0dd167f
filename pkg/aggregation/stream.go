package aggregation

import (
	"context"
	"io"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Stream yields documents one at a time. Next returns io.EOF once the
// stream is exhausted.
type Stream interface {
	Next(ctx context.Context) (*document.Document, error)
}

// StreamFunc adapts a function to the Stream interface
type StreamFunc func(ctx context.Context) (*document.Document, error)

// Next calls f(ctx)
func (f StreamFunc) Next(ctx context.Context) (*document.Document, error) {
	return f(ctx)
}

// FromSlice returns a stream over docs
func FromSlice(docs []*document.Document) Stream {
	i := 0
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(docs) {
			return nil, io.EOF
		}
		doc := docs[i]
		i++
		return doc, nil
	})
}

// Collect drains a stream. On error nothing is returned.
func Collect(ctx context.Context, s Stream) ([]*document.Document, error) {
	var docs []*document.Document
	for {
		doc, err := s.Next(ctx)
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// materialized is a stream that fills a buffer from its source on first
// use, then replays it
type materialized struct {
	source Stream
	fill   func(ctx context.Context, docs []*document.Document) ([]*document.Document, error)
	docs   []*document.Document
	pos    int
	done   bool
}

func (m *materialized) Next(ctx context.Context) (*document.Document, error) {
	if !m.done {
		var input []*document.Document
		for {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			doc, err := m.source.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			input = append(input, doc)
		}
		out, err := m.fill(ctx, input)
		if err != nil {
			return nil, err
		}
		m.docs = out
		m.done = true
	}

	if m.pos >= len(m.docs) {
		return nil, io.EOF
	}
	doc := m.docs[m.pos]
	m.pos++
	return doc, nil
}
