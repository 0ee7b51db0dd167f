package query

import (
	"sort"

	"github.com/mnohosten/streamhub/pkg/document"
)

// SortField represents a field to sort by
type SortField struct {
	Field     string
	Ascending bool
}

// ParseSort parses an ordered sort specification such as
// {"content_count": -1, "_id": 1}. Directions must be 1 or -1.
func ParseSort(spec *document.Document) ([]SortField, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, invalidf("sort specification must name at least one field")
	}

	fields := make([]SortField, 0, spec.Len())
	for _, key := range spec.Keys() {
		value, _ := spec.Get(key)
		dir, ok := document.ToInt64(value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, invalidf("sort direction for %s must be 1 or -1", key)
		}
		fields = append(fields, SortField{Field: key, Ascending: dir == 1})
	}
	return fields, nil
}

// SortDocuments sorts docs in place by the given fields. The sort is stable:
// documents that compare equal keep their relative order. Missing fields
// sort as null, before every other value.
func SortDocuments(docs []*document.Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		return compareBy(docs[i], docs[j], fields) < 0
	})
}

func compareBy(a, b *document.Document, fields []SortField) int {
	for _, field := range fields {
		va, _ := a.GetPath(field.Field)
		vb, _ := b.GetPath(field.Field)

		cmp := document.Compare(va, vb)
		if cmp == 0 {
			continue
		}
		if !field.Ascending {
			cmp = -cmp
		}
		return cmp
	}
	return 0
}
