package impex

import (
	"fmt"
	"io"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Format represents a document export/import format
type Format string

const (
	// FormatJSON is an Extended JSON array
	FormatJSON Format = "json"
	// FormatCSV is CSV with a header row
	FormatCSV Format = "csv"
)

// ParseFormat parses a format name. The empty string selects JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", name)
	}
}

// WriteDocuments writes docs in the given format. fields selects CSV
// columns and is ignored for JSON.
func WriteDocuments(writer io.Writer, docs []*document.Document, format Format, fields []string) error {
	switch format {
	case FormatJSON:
		return NewJSONExporter(false).Export(writer, docs)
	case FormatCSV:
		return NewCSVExporter(fields).Export(writer, docs)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// ReadDocuments reads documents in the given format
func ReadDocuments(reader io.Reader, format Format) ([]*document.Document, error) {
	switch format {
	case FormatJSON:
		return NewJSONImporter().Import(reader)
	case FormatCSV:
		return NewCSVImporter(nil).Import(reader)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
