package document

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// FromBSON converts an ordered bson.D into a Document, preserving key order
func FromBSON(d bson.D) *Document {
	doc := NewDocument()
	for _, e := range d {
		doc.Set(e.Key, e.Value)
	}
	return doc
}

// ToBSON converts the document into an ordered bson.D
func (d *Document) ToBSON() bson.D {
	out := make(bson.D, 0, len(d.order))
	for _, k := range d.order {
		v := d.fields[k]
		out = append(out, bson.E{Key: k, Value: toBSONValue(v.Data)})
	}
	return out
}

func toBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.ToBSON()
	case []interface{}:
		arr := make(bson.A, len(val))
		for i, item := range val {
			arr[i] = toBSONValue(item)
		}
		return arr
	case time.Time:
		return val
	}
	return v
}

// From converts any supported representation (a *Document, bson.D, bson.M,
// map[string]interface{} or a bson-tagged struct) into a Document
func From(v interface{}) (*Document, error) {
	switch val := v.(type) {
	case nil:
		return NewDocument(), nil
	case *Document:
		return val, nil
	case bson.D:
		return FromBSON(val), nil
	case map[string]interface{}:
		return NewDocumentFromMap(val), nil
	case bson.M:
		return NewDocumentFromMap(val), nil
	}

	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T as document: %w", v, err)
	}
	return Unmarshal(data)
}

// MustFrom is like From but panics on error. Intended for literals in tests
// and sample data.
func MustFrom(v interface{}) *Document {
	doc, err := From(v)
	if err != nil {
		panic(err)
	}
	return doc
}

// Marshal encodes the document as binary BSON
func (d *Document) Marshal() ([]byte, error) {
	return bson.Marshal(d.ToBSON())
}

// Unmarshal decodes binary BSON into a Document
func Unmarshal(data []byte) (*Document, error) {
	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode BSON: %w", err)
	}
	return FromBSON(d), nil
}

// MarshalJSON encodes the document as relaxed Extended JSON, keeping field
// order. It lets encoding/json embed documents in larger responses.
func (d *Document) MarshalJSON() ([]byte, error) {
	return bson.MarshalExtJSON(d.ToBSON(), false, false)
}

// ParseJSON decodes relaxed or canonical Extended JSON into a Document.
// Unlike encoding/json the original key order is kept, which matters for
// sort specifications and compound index keys.
func ParseJSON(data []byte) (*Document, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON(data, false, &d); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	return FromBSON(d), nil
}

// MustParseJSON is like ParseJSON but panics on error
func MustParseJSON(s string) *Document {
	doc, err := ParseJSON([]byte(s))
	if err != nil {
		panic(err)
	}
	return doc
}

// ParseJSONArray decodes an Extended JSON array of documents, such as an
// aggregation pipeline
func ParseJSONArray(data []byte) ([]*Document, error) {
	wrapped := make([]byte, 0, len(data)+8)
	wrapped = append(wrapped, `{"a":`...)
	wrapped = append(wrapped, data...)
	wrapped = append(wrapped, '}')

	doc, err := ParseJSON(wrapped)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	raw, _ := doc.Get("a")
	return DocumentsFrom(raw)
}

// DocumentsFrom converts a normalized array of documents into a slice
func DocumentsFrom(v interface{}) ([]*Document, error) {
	arr, ok := Normalize(v).([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array of documents, got %s", TypeOf(Normalize(v)))
	}
	docs := make([]*Document, len(arr))
	for i, item := range arr {
		doc, ok := item.(*Document)
		if !ok {
			return nil, fmt.Errorf("element %d is a %s, not a document", i, TypeOf(item))
		}
		docs[i] = doc
	}
	return docs, nil
}
