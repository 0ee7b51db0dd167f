package impex

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
)

// CSVExporter writes documents as CSV with a header row. Fields are
// dotted paths; with none, the columns are the top-level fields in the
// order they first appear.
type CSVExporter struct {
	Fields []string
}

// NewCSVExporter creates a CSV exporter for the given columns
func NewCSVExporter(fields []string) *CSVExporter {
	return &CSVExporter{Fields: fields}
}

// Export writes docs to w. Nothing is written for an empty slice.
func (e *CSVExporter) Export(w io.Writer, docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	columns := e.Fields
	if len(columns) == 0 {
		columns = topLevelColumns(docs)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	row := make([]string, len(columns))
	for _, doc := range docs {
		for i, path := range columns {
			v, _ := doc.GetPath(path)
			row[i] = csvCell(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func topLevelColumns(docs []*document.Document) []string {
	var columns []string
	seen := make(map[string]struct{})
	for _, doc := range docs {
		for _, key := range doc.Keys() {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				columns = append(columns, key)
			}
		}
	}
	return columns
}

// csvCell renders one value. Missing and null values are empty cells;
// arrays and embedded documents are Extended JSON.
func csvCell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case document.ObjectID:
		return v.Hex()
	case []interface{}, *document.Document:
		s, err := extJSON(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return s
	default:
		return fmt.Sprint(v)
	}
}

// extJSON encodes a single value as Extended JSON
func extJSON(v interface{}) (string, error) {
	holder := document.NewDocument()
	holder.Set("v", v)
	data, err := holder.MarshalJSON()
	if err != nil {
		return "", err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", err
	}
	return string(fields["v"]), nil
}

// CSVImporter reads CSV into documents. Headers are dotted paths; with
// none, the first row is the header.
type CSVImporter struct {
	Headers []string
}

// NewCSVImporter creates a CSV importer
func NewCSVImporter(headers []string) *CSVImporter {
	return &CSVImporter{Headers: headers}
}

// Import reads every row of r. Empty cells are left out of the document
// and short rows are allowed.
func (i *CSVImporter) Import(r io.Reader) ([]*document.Document, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	headers := i.Headers
	if len(headers) == 0 {
		var err error
		if headers, err = cr.Read(); err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
	}

	docs := []*document.Document{}
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		doc := document.NewDocument()
		for col, cell := range row {
			if col >= len(headers) || cell == "" {
				continue
			}
			if err := doc.SetPath(headers[col], cellValue(cell)); err != nil {
				return nil, fmt.Errorf("CSV row %d, column %s: %w", line, headers[col], err)
			}
		}
		docs = append(docs, doc)
	}
}

// cellValue infers the type of a cell: booleans, integers, floats,
// ObjectIDs, RFC 3339 times and JSON arrays or documents, else a string
func cellValue(cell string) interface{} {
	switch cell {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if len(cell) == 24 {
		if oid, err := document.ObjectIDFromHex(cell); err == nil {
			return oid
		}
	}
	if t, err := time.Parse(time.RFC3339, cell); err == nil {
		return t
	}
	if strings.HasPrefix(cell, "[") || strings.HasPrefix(cell, "{") {
		if holder, err := document.ParseJSON([]byte(`{"v":` + cell + `}`)); err == nil {
			v, _ := holder.Get("v")
			return v
		}
	}
	return cell
}
