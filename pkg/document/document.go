package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Document represents a BSON-like document (ordered key-value pairs)
type Document struct {
	fields map[string]*Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map. Go maps are unordered,
// so keys are added in sorted order to keep the result deterministic.
func NewDocumentFromMap(m map[string]interface{}) *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := NewDocument()
	for _, k := range keys {
		doc.Set(k, m[k])
	}
	return doc
}

// Set sets a field value in the document
func (d *Document) Set(key string, value interface{}) {
	if d.fields == nil {
		d.fields = make(map[string]*Value)
	}
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = NewValue(value)
}

// Get retrieves a field value from the document
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Data, true
	}
	return nil, false
}

// GetValue retrieves a typed value from the document
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.fields)
}

// ToMap converts the document to a map[string]interface{}, recursively
// converting nested documents
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = toInterface(v.Data)
	}
	return m
}

func toInterface(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.ToMap()
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, item := range val {
			result[i] = toInterface(item)
		}
		return result
	}
	return v
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]*Value, len(d.fields)),
		order:  make([]string, len(d.order)),
	}
	copy(clone.order, d.order)
	for k, v := range d.fields {
		clone.fields[k] = &Value{Type: v.Type, Data: CloneValue(v.Data)}
	}
	return clone
}

// CloneValue deep-copies a normalized value
func CloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Document:
		return val.Clone()
	case []interface{}:
		clone := make([]interface{}, len(val))
		for i, item := range val {
			clone[i] = CloneValue(item)
		}
		return clone
	case []byte:
		clone := make([]byte, len(val))
		copy(clone, val)
		return clone
	}
	return v
}

// GetPath resolves a dotted path such as "specific_episode.season".
// Traversal through an array applies the rest of the path to every element
// (numeric segments index into the array instead), so
// "viewing_history.watched_time" yields the array of every entry's
// watched_time. The boolean is false when nothing along the path exists.
func (d *Document) GetPath(path string) (interface{}, bool) {
	if !strings.Contains(path, ".") {
		return d.Get(path)
	}
	return lookupPath(d, strings.Split(path, "."))
}

func lookupPath(current interface{}, parts []string) (interface{}, bool) {
	if len(parts) == 0 {
		return current, true
	}

	switch val := current.(type) {
	case *Document:
		next, ok := val.Get(parts[0])
		if !ok {
			return nil, false
		}
		return lookupPath(next, parts[1:])
	case []interface{}:
		if idx, err := strconv.Atoi(parts[0]); err == nil {
			if idx < 0 || idx >= len(val) {
				return nil, false
			}
			return lookupPath(val[idx], parts[1:])
		}
		collected := make([]interface{}, 0, len(val))
		for _, item := range val {
			if _, isDoc := item.(*Document); !isDoc {
				continue
			}
			if v, ok := lookupPath(item, parts); ok {
				collected = append(collected, v)
			}
		}
		if len(collected) == 0 {
			return nil, false
		}
		return collected, true
	default:
		return nil, false
	}
}

// SetPath sets a value at a dotted path, creating intermediate documents
// as needed. It fails when an intermediate field holds a non-document.
func (d *Document) SetPath(path string, value interface{}) error {
	parts := strings.Split(path, ".")
	current := d
	for i, part := range parts[:len(parts)-1] {
		next, ok := current.Get(part)
		if !ok || next == nil {
			child := NewDocument()
			current.Set(part, child)
			current = child
			continue
		}
		child, isDoc := next.(*Document)
		if !isDoc {
			return fmt.Errorf("cannot set %q: %q is a %s", path, strings.Join(parts[:i+1], "."), TypeOf(next))
		}
		current = child
	}
	current.Set(parts[len(parts)-1], value)
	return nil
}

// DeletePath removes the field at a dotted path if it exists
func (d *Document) DeletePath(path string) {
	parts := strings.Split(path, ".")
	current := d
	for _, part := range parts[:len(parts)-1] {
		next, ok := current.Get(part)
		if !ok {
			return
		}
		child, isDoc := next.(*Document)
		if !isDoc {
			return
		}
		current = child
	}
	current.Delete(parts[len(parts)-1])
}

// Equal reports whether two documents hold the same fields in the same order
// with equal values
func (d *Document) Equal(other *Document) bool {
	if other == nil || d.Len() != other.Len() {
		return false
	}
	for i, k := range d.order {
		if other.order[i] != k {
			return false
		}
		a, _ := d.Get(k)
		b, _ := other.Get(k)
		if !Equal(a, b) {
			return false
		}
	}
	return true
}

// String returns the relaxed Extended JSON form of the document
func (d *Document) String() string {
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", d.ToMap())
	}
	return string(data)
}
