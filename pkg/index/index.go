package index

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/mnohosten/streamhub/pkg/document"
)

// DefaultBuckets is the number of lock-striped buckets per prefix level
const DefaultBuckets = 64

// KeyField is one component of an index key
type KeyField struct {
	Field     string
	Direction int
}

// Config holds configuration for creating an index
type Config struct {
	Name    string
	Keys    []KeyField
	Unique  bool
	Buckets int
}

// Index is a hash index over an ordered tuple of fields. It keeps one map
// per key prefix, so an index on (type, genres) can answer equality on
// type alone or on both fields. Each prefix level is split into buckets
// with their own lock.
//
// Array values are indexed element by element (multikey). A document that
// lacks field j is left out of every level that includes field j.
type Index struct {
	name   string
	keys   []KeyField
	unique bool
	levels [][]*bucket
	stats  *Statistics
}

type bucket struct {
	mu      sync.RWMutex
	entries map[string]map[string]struct{}
}

// NewIndex creates a new index
func NewIndex(config *Config) *Index {
	if len(config.Keys) == 0 {
		panic("index must have at least one field")
	}

	n := config.Buckets
	if n <= 0 {
		n = DefaultBuckets
	}

	idx := &Index{
		name:   config.Name,
		keys:   append([]KeyField(nil), config.Keys...),
		unique: config.Unique,
		levels: make([][]*bucket, len(config.Keys)),
		stats:  newStatistics(),
	}
	if idx.name == "" {
		idx.name = DefaultName(idx.keys)
	}

	for level := range idx.levels {
		idx.levels[level] = make([]*bucket, n)
		for i := range idx.levels[level] {
			idx.levels[level][i] = &bucket{entries: make(map[string]map[string]struct{})}
		}
	}

	return idx
}

// ParseKeys parses an ordered key specification such as
// {"type": 1, "genres": 1}
func ParseKeys(spec *document.Document) ([]KeyField, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", ErrInvalidKeys)
	}

	keys := make([]KeyField, 0, spec.Len())
	for _, field := range spec.Keys() {
		value, _ := spec.Get(field)
		dir, ok := document.ToInt64(value)
		if field == "" || !ok || (dir != 1 && dir != -1) {
			return nil, fmt.Errorf("%w: direction for %q must be 1 or -1", ErrInvalidKeys, field)
		}
		keys = append(keys, KeyField{Field: field, Direction: int(dir)})
	}
	return keys, nil
}

// DefaultName builds the conventional index name, e.g. "type_1_genres_1"
func DefaultName(keys []KeyField) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Field, fmt.Sprint(k.Direction))
	}
	return strings.Join(parts, "_")
}

// Name returns the index name
func (idx *Index) Name() string {
	return idx.name
}

// Keys returns the key fields in order
func (idx *Index) Keys() []KeyField {
	return idx.keys
}

// FieldPaths returns the key field paths in order
func (idx *Index) FieldPaths() []string {
	paths := make([]string, len(idx.keys))
	for i, k := range idx.keys {
		paths[i] = k.Field
	}
	return paths
}

// IsCompound returns true if this is a compound index (multiple fields)
func (idx *Index) IsCompound() bool {
	return len(idx.keys) > 1
}

// IsUnique returns whether this is a unique index
func (idx *Index) IsUnique() bool {
	return idx.unique
}

// KeySpec returns the key specification as an ordered document
func (idx *Index) KeySpec() *document.Document {
	spec := document.NewDocument()
	for _, k := range idx.keys {
		spec.Set(k.Field, k.Direction)
	}
	return spec
}

// Insert adds the entries for doc under id
func (idx *Index) Insert(id string, doc *document.Document) error {
	return idx.Replace(id, nil, doc)
}

// Remove drops the entries for doc under id
func (idx *Index) Remove(id string, doc *document.Document) {
	_ = idx.Replace(id, doc, nil)
}

// Replace swaps the entries of oldDoc for those of newDoc under id. Either
// document may be nil. On a unique conflict nothing is changed and a
// *DuplicateKeyError is returned. When oldDoc is nil the write is a fresh
// insert, so an entry already held by id itself is also a conflict.
func (idx *Index) Replace(id string, oldDoc, newDoc *document.Document) error {
	oldKeys := idx.entries(oldDoc)
	newKeys := idx.entries(newDoc)

	// The full-key level goes first: it is the only one that can fail.
	full := len(idx.keys) - 1
	if err := idx.replaceLevel(full, id, oldKeys[full], newKeys[full], idx.unique, oldDoc == nil); err != nil {
		return err
	}
	for level := 0; level < full; level++ {
		_ = idx.replaceLevel(level, id, oldKeys[level], newKeys[level], false, false)
	}

	idx.stats.recordWrite()
	return nil
}

// replaceLevel applies a removal and insertion on one prefix level while
// holding every bucket involved. Buckets are locked in ascending order.
func (idx *Index) replaceLevel(level int, id string, remove, add []keyTuple, unique, fresh bool) error {
	if len(remove) == 0 && len(add) == 0 {
		return nil
	}

	buckets := idx.levels[level]
	involved := make(map[int]struct{})
	for _, k := range remove {
		involved[idx.bucketFor(k.key)] = struct{}{}
	}
	for _, k := range add {
		involved[idx.bucketFor(k.key)] = struct{}{}
	}
	order := make([]int, 0, len(involved))
	for b := range involved {
		order = append(order, b)
	}
	sort.Ints(order)

	for _, b := range order {
		buckets[b].mu.Lock()
	}
	defer func() {
		for _, b := range order {
			buckets[b].mu.Unlock()
		}
	}()

	if unique {
		for _, k := range add {
			for other := range buckets[idx.bucketFor(k.key)].entries[k.key] {
				if fresh || other != id {
					return &DuplicateKeyError{Index: idx.name, Key: k.values}
				}
			}
		}
	}

	for _, k := range remove {
		b := buckets[idx.bucketFor(k.key)]
		if ids, ok := b.entries[k.key]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(b.entries, k.key)
			}
		}
	}
	for _, k := range add {
		b := buckets[idx.bucketFor(k.key)]
		ids, ok := b.entries[k.key]
		if !ok {
			ids = make(map[string]struct{})
			b.entries[k.key] = ids
		}
		ids[id] = struct{}{}
	}
	return nil
}

// Lookup returns the ids of documents whose leading len(values) key fields
// equal values. values must not be longer than the key.
func (idx *Index) Lookup(values ...interface{}) []string {
	if len(values) == 0 || len(values) > len(idx.keys) {
		return nil
	}

	key := document.CanonicalKey(values...)
	b := idx.levels[len(values)-1][idx.bucketFor(key)]

	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.entries[key]))
	for id := range b.entries[key] {
		ids = append(ids, id)
	}
	return ids
}

// Size returns the number of (key, document) entries at the full-key level
func (idx *Index) Size() int {
	size := 0
	for _, b := range idx.levels[len(idx.keys)-1] {
		b.mu.RLock()
		for _, ids := range b.entries {
			size += len(ids)
		}
		b.mu.RUnlock()
	}
	return size
}

// Analyze recalculates index statistics by scanning the full-key level
func (idx *Index) Analyze() {
	entries, distinct := 0, 0
	for _, b := range idx.levels[len(idx.keys)-1] {
		b.mu.RLock()
		distinct += len(b.entries)
		for _, ids := range b.entries {
			entries += len(ids)
		}
		b.mu.RUnlock()
	}
	idx.stats.set(entries, distinct)
}

// Statistics returns the live statistics of the index
func (idx *Index) Statistics() *Statistics {
	return idx.stats
}

// RecordUse counts a query that the planner answered with this index
func (idx *Index) RecordUse() {
	idx.stats.uses.Add(1)
}

// Stats returns a description of the index for listings and explain output
func (idx *Index) Stats() map[string]interface{} {
	if idx.stats.Stale() {
		idx.Analyze()
	}

	stats := map[string]interface{}{
		"name":        idx.name,
		"key":         idx.KeySpec(),
		"field_paths": idx.FieldPaths(),
		"is_compound": idx.IsCompound(),
		"unique":      idx.unique,
	}
	for k, v := range idx.stats.Snapshot().toMap() {
		stats[k] = v
	}
	return stats
}

func (idx *Index) bucketFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(idx.levels[0])))
}

// keyTuple is one index key: its canonical encoding and the values it
// encodes
type keyTuple struct {
	key    string
	values []interface{}
}

// entries computes the key tuples of doc for every prefix level. A nil
// document has none.
func (idx *Index) entries(doc *document.Document) [][]keyTuple {
	result := make([][]keyTuple, len(idx.keys))
	if doc == nil {
		return result
	}

	tuples := [][]interface{}{{}}
	for level, k := range idx.keys {
		value, ok := doc.GetPath(k.Field)
		if !ok {
			break
		}
		elements := expand(value)
		if len(elements) == 0 {
			break
		}

		next := make([][]interface{}, 0, len(tuples)*len(elements))
		seen := make(map[string]struct{}, len(tuples)*len(elements))
		for _, prefix := range tuples {
			for _, e := range elements {
				tuple := make([]interface{}, len(prefix)+1)
				copy(tuple, prefix)
				tuple[len(prefix)] = e

				key := document.CanonicalKey(tuple...)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				next = append(next, tuple)
				result[level] = append(result[level], keyTuple{key: key, values: tuple})
			}
		}
		tuples = next
	}

	return result
}

// expand returns the values a field contributes to the index: the value
// itself for scalars, the elements for arrays (nested arrays produced by
// traversing arrays of sub-documents are flattened one level).
func expand(value interface{}) []interface{} {
	arr, ok := value.([]interface{})
	if !ok {
		return []interface{}{value}
	}
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		if nested, ok := item.([]interface{}); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, item)
	}
	return out
}
