package index

import "github.com/mnohosten/streamhub/pkg/document"

// Choice is the result of index selection: the index and the equality
// values for its leading fields
type Choice struct {
	Index  *Index
	Prefix []interface{}
}

// Choose picks the index whose longest leading run of key fields is fully
// constrained by equality. Ties go to the index created first (earlier in
// indexes). Returns nil when no index has its first field constrained.
func Choose(indexes []*Index, equalities map[string]interface{}) *Choice {
	var best *Choice
	for _, idx := range indexes {
		prefix := make([]interface{}, 0, len(idx.keys))
		for _, k := range idx.keys {
			value, ok := equalities[k.Field]
			if !ok || !indexable(value) {
				break
			}
			prefix = append(prefix, value)
		}
		if len(prefix) == 0 {
			continue
		}
		if best == nil || len(prefix) > len(best.Prefix) {
			best = &Choice{Index: idx, Prefix: prefix}
		}
	}
	return best
}

// indexable reports whether an equality operand can be looked up directly
func indexable(value interface{}) bool {
	switch value.(type) {
	case []interface{}, *document.Document:
		return false
	}
	return true
}
