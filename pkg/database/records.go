package database

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/mnohosten/streamhub/pkg/document"
)

// record is one stored document. Its mutex guards doc and deleted; seq is
// fixed at insert and gives insertion order.
type record struct {
	mu      sync.RWMutex
	key     string
	id      interface{}
	seq     uint64
	doc     *document.Document
	deleted bool
}

// snapshot returns a copy of the document, or nil if the record was
// deleted
func (r *record) snapshot() *document.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deleted {
		return nil
	}
	return r.doc.Clone()
}

// recordTable holds the records of a collection.
// Uses lock striping to reduce contention on the record map.
type recordTable struct {
	// Number of stripes (power of 2 for efficient modulo)
	numStripes int
	stripes    []*recordStripe
}

// recordStripe holds a subset of the records
type recordStripe struct {
	mu      sync.RWMutex
	records map[string]*record
}

// newRecordTable creates a record table with the specified number of stripes
// (default: 256)
func newRecordTable(numStripes int) *recordTable {
	if numStripes <= 0 {
		numStripes = 256
	}

	t := &recordTable{
		numStripes: numStripes,
		stripes:    make([]*recordStripe, numStripes),
	}
	for i := 0; i < numStripes; i++ {
		t.stripes[i] = &recordStripe{records: make(map[string]*record)}
	}
	return t
}

// getStripe returns the stripe for a record key
func (t *recordTable) getStripe(key string) *recordStripe {
	// Use FNV-1a hash for consistent distribution
	h := fnv.New32a()
	h.Write([]byte(key))
	return t.stripes[int(h.Sum32()%uint32(t.numStripes))]
}

func (t *recordTable) get(key string) (*record, bool) {
	stripe := t.getStripe(key)
	stripe.mu.RLock()
	defer stripe.mu.RUnlock()
	r, ok := stripe.records[key]
	return r, ok
}

func (t *recordTable) put(r *record) {
	stripe := t.getStripe(r.key)
	stripe.mu.Lock()
	stripe.records[r.key] = r
	stripe.mu.Unlock()
}

// remove drops r if it is still the record stored under its key. A newer
// record that reused the key is left alone.
func (t *recordTable) remove(r *record) {
	stripe := t.getStripe(r.key)
	stripe.mu.Lock()
	if current, ok := stripe.records[r.key]; ok && current == r {
		delete(stripe.records, r.key)
	}
	stripe.mu.Unlock()
}

// all returns every record, in insertion order
func (t *recordTable) all() []*record {
	var out []*record
	for _, stripe := range t.stripes {
		stripe.mu.RLock()
		for _, r := range stripe.records {
			out = append(out, r)
		}
		stripe.mu.RUnlock()
	}
	sortBySeq(out)
	return out
}

// lookup returns the records stored under keys, in insertion order.
// Unknown keys are skipped.
func (t *recordTable) lookup(keys []string) []*record {
	out := make([]*record, 0, len(keys))
	for _, key := range keys {
		if r, ok := t.get(key); ok {
			out = append(out, r)
		}
	}
	sortBySeq(out)
	return out
}

func (t *recordTable) len() int {
	n := 0
	for _, stripe := range t.stripes {
		stripe.mu.RLock()
		n += len(stripe.records)
		stripe.mu.RUnlock()
	}
	return n
}

func sortBySeq(records []*record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].seq < records[j].seq
	})
}
