package impex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mnohosten/streamhub/pkg/document"
)

// JSONExporter exports documents as an Extended JSON array
type JSONExporter struct {
	Pretty bool // Enable pretty-printing (indentation)
}

// NewJSONExporter creates a new JSON exporter
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes documents to the writer as relaxed Extended JSON, keeping
// field order
func (e *JSONExporter) Export(writer io.Writer, docs []*document.Document) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, doc := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := doc.MarshalJSON()
		if err != nil {
			return fmt.Errorf("failed to encode document %d: %w", i, err)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')

	out := buf.Bytes()
	if e.Pretty {
		var indented bytes.Buffer
		if err := json.Indent(&indented, out, "", "  "); err != nil {
			return fmt.Errorf("failed to indent JSON: %w", err)
		}
		out = indented.Bytes()
	}
	out = append(out, '\n')

	if _, err := writer.Write(out); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// JSONImporter imports documents from an Extended JSON array
type JSONImporter struct{}

// NewJSONImporter creates a new JSON importer
func NewJSONImporter() *JSONImporter {
	return &JSONImporter{}
}

// Import reads an Extended JSON array of documents. $oid, $date and the
// other Extended JSON wrappers decode to their typed values.
func (i *JSONImporter) Import(reader io.Reader) ([]*document.Document, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON: %w", err)
	}
	docs, err := document.ParseJSONArray(bytes.TrimSpace(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	return docs, nil
}
