package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mnohosten/streamhub/pkg/aggregation"
	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/index"
	"github.com/mnohosten/streamhub/pkg/query"
	"github.com/mnohosten/streamhub/pkg/update"
)

// IDIndexName is the name of the implicit unique index on _id
const IDIndexName = "_id_"

// Collection represents a collection of documents.
//
// Lock order: index registry (idxMu) -> record -> index bucket. Writers
// hold idxMu for reading while they touch records and indexes; CreateIndex
// and DropIndex hold it for writing. A write publishes its change event
// before releasing the record lock, so events for one document arrive in
// commit order.
type Collection struct {
	name    string
	db      *Database
	records *recordTable
	seq     atomic.Uint64

	idxMu   sync.RWMutex
	indexes []*index.Index // creation order; indexes[0] is _id_
	buckets int

	// closedErr is set once the collection is dropped or its database
	// closed; guarded by idxMu
	closedErr error
}

func newCollection(name string, db *Database) *Collection {
	c := &Collection{
		name:    name,
		db:      db,
		records: newRecordTable(db.config.RecordStripes),
		buckets: db.config.IndexBuckets,
	}
	c.indexes = []*index.Index{index.NewIndex(&index.Config{
		Name:    IDIndexName,
		Keys:    []index.KeyField{{Field: "_id", Direction: 1}},
		Unique:  true,
		Buckets: c.buckets,
	})}
	return c
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// close detaches the collection after waiting for in-flight writes.
// Every later operation fails with err.
func (c *Collection) close(err error) {
	c.idxMu.Lock()
	if c.closedErr == nil {
		c.closedErr = err
	}
	c.idxMu.Unlock()
}

// InsertOne inserts a document and returns its _id. A missing _id is
// assigned a new ObjectID. The caller's document is not retained.
func (c *Collection) InsertOne(ctx context.Context, doc *document.Document) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is required", ErrInvalidExpression)
	}

	stored := doc.Clone()
	id, ok := stored.Get("_id")
	if !ok {
		id = document.NewObjectID()
		stored = withID(stored, id)
	}
	if _, isArray := id.([]interface{}); isArray {
		return nil, fmt.Errorf("%w: _id cannot be an array", ErrInvalidExpression)
	}

	r := &record{
		key: document.CanonicalKey(id),
		id:  id,
		doc: stored,
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	if c.closedErr != nil {
		return nil, c.closedErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = c.seq.Add(1)
	for i, idx := range c.indexes {
		if err := idx.Insert(r.key, stored); err != nil {
			for _, done := range c.indexes[:i] {
				done.Remove(r.key, stored)
			}
			return nil, fmt.Errorf("insert into %s failed: %w", c.name, err)
		}
	}
	c.records.put(r)

	c.db.notify(ChangeEvent{
		Operation:  OperationInsert,
		Collection: c.name,
		DocumentID: id,
		Document:   stored.Clone(),
	})
	return id, nil
}

// withID returns doc with _id as its first field
func withID(doc *document.Document, id interface{}) *document.Document {
	out := document.NewDocument()
	out.Set("_id", id)
	for _, key := range doc.Keys() {
		value, _ := doc.Get(key)
		out.Set(key, value)
	}
	return out
}

// InsertMany inserts documents in order and stops at the first error.
// The ids of the documents inserted so far are returned with it.
func (c *Collection) InsertMany(ctx context.Context, docs []*document.Document) ([]interface{}, error) {
	ids := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		id, err := c.InsertOne(ctx, doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// choose picks the records a filter has to visit: the candidates of the
// chosen index, or every record. Caller must hold idxMu.
func (c *Collection) choose(f *query.Filter) ([]*record, *index.Choice) {
	choice := index.Choose(c.indexes, f.EqualityValues())
	if choice == nil {
		return c.records.all(), nil
	}
	return c.records.lookup(choice.Index.Lookup(choice.Prefix...)), choice
}

// plan is choose for a query that will run; the chosen index counts the use
func (c *Collection) plan(f *query.Filter) ([]*record, *index.Choice) {
	records, choice := c.choose(f)
	if choice != nil {
		choice.Index.RecordUse()
	}
	return records, choice
}

// candidates parses filter and snapshots the record set it must visit
func (c *Collection) candidates(filter *document.Document) (*query.Filter, []*record, error) {
	f, err := query.Parse(filter)
	if err != nil {
		return nil, nil, err
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	if c.closedErr != nil {
		return nil, nil, c.closedErr
	}
	records, _ := c.plan(f)
	return f, records, nil
}

// Find returns a cursor over the documents matching filter, in insertion
// order. The record set is fixed when Find is called; each document is
// read when the cursor reaches it. A nil filter matches everything.
func (c *Collection) Find(ctx context.Context, filter *document.Document) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, records, err := c.candidates(filter)
	if err != nil {
		return nil, err
	}
	return newCursor(f, records), nil
}

// FindWithOptions is Find with sort, skip, limit and projection applied,
// in that order. Sorting reads the whole result before returning the
// first document.
func (c *Collection) FindWithOptions(ctx context.Context, filter *document.Document, options *QueryOptions) (*Cursor, error) {
	cursor, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if options == nil {
		return cursor, nil
	}

	var stages []*document.Document
	stage := func(name string, spec interface{}) {
		d := document.NewDocument()
		d.Set(name, spec)
		stages = append(stages, d)
	}
	if options.Sort != nil && options.Sort.Len() > 0 {
		stage("$sort", options.Sort)
	}
	if options.Skip > 0 {
		stage("$skip", options.Skip)
	}
	if options.Limit > 0 {
		stage("$limit", options.Limit)
	}
	if options.Projection != nil && options.Projection.Len() > 0 {
		stage("$project", options.Projection)
	}
	if len(stages) == 0 {
		return cursor, nil
	}

	pipeline, err := aggregation.NewPipeline(stages)
	if err != nil {
		return nil, err
	}
	return cursor.through(pipeline), nil
}

// FindOne returns the first matching document in insertion order
func (c *Collection) FindOne(ctx context.Context, filter *document.Document) (*document.Document, error) {
	cursor, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	doc, err := cursor.Next(ctx)
	if err != nil {
		if isEOF(err) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Count returns the number of matching documents
func (c *Collection) Count(ctx context.Context, filter *document.Document) (int, error) {
	f, records, err := c.candidates(filter)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r.mu.RLock()
		if !r.deleted && f.Matches(r.doc) {
			n++
		}
		r.mu.RUnlock()
	}
	return n, nil
}

// UpdateOne applies update to the first matching document in insertion
// order. Returns the number of documents modified (0 or 1).
func (c *Collection) UpdateOne(ctx context.Context, filter, updateSpec *document.Document) (int, error) {
	return c.updateMatching(ctx, filter, updateSpec, 1)
}

// UpdateMany applies update to every matching document. Each document is
// updated atomically; on error the documents already updated stay updated.
func (c *Collection) UpdateMany(ctx context.Context, filter, updateSpec *document.Document) (int, error) {
	return c.updateMatching(ctx, filter, updateSpec, -1)
}

func (c *Collection) updateMatching(ctx context.Context, filter, updateSpec *document.Document, limit int) (int, error) {
	f, err := query.Parse(filter)
	if err != nil {
		return 0, err
	}
	u, err := update.Parse(updateSpec)
	if err != nil {
		return 0, err
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	if c.closedErr != nil {
		return 0, c.closedErr
	}

	records, _ := c.plan(f)
	modified := 0
	for _, r := range records {
		if limit > 0 && modified >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return modified, err
		}

		ok, err := c.updateRecord(r, f, u)
		if err != nil {
			return modified, err
		}
		if ok {
			modified++
		}
	}
	return modified, nil
}

// updateRecord re-checks the filter under the record lock and applies the
// update to the record and every index, or to none of them. Caller must
// hold idxMu for reading.
func (c *Collection) updateRecord(r *record, f *query.Filter, u *update.Update) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted || !f.Matches(r.doc) {
		return false, nil
	}

	newDoc, err := u.Apply(r.doc)
	if err != nil {
		return false, err
	}

	for i, idx := range c.indexes {
		if err := idx.Replace(r.key, r.doc, newDoc); err != nil {
			for _, done := range c.indexes[:i] {
				_ = done.Replace(r.key, newDoc, r.doc)
			}
			return false, fmt.Errorf("update in %s failed: %w", c.name, err)
		}
	}

	r.doc = newDoc
	c.db.notify(ChangeEvent{
		Operation:     OperationUpdate,
		Collection:    c.name,
		DocumentID:    r.id,
		Document:      newDoc.Clone(),
		UpdatedFields: u.Paths(),
	})
	return true, nil
}

// DeleteMany removes every matching document and returns how many were
// removed. Each document is matched and removed atomically.
func (c *Collection) DeleteMany(ctx context.Context, filter *document.Document) (int, error) {
	return c.deleteMatching(ctx, filter, -1)
}

// DeleteOne removes the first matching document in insertion order
func (c *Collection) DeleteOne(ctx context.Context, filter *document.Document) (int, error) {
	return c.deleteMatching(ctx, filter, 1)
}

func (c *Collection) deleteMatching(ctx context.Context, filter *document.Document, limit int) (int, error) {
	f, err := query.Parse(filter)
	if err != nil {
		return 0, err
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()
	if c.closedErr != nil {
		return 0, c.closedErr
	}

	records, _ := c.plan(f)
	deleted := 0
	for _, r := range records {
		if limit > 0 && deleted >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		r.mu.Lock()
		if r.deleted || !f.Matches(r.doc) {
			r.mu.Unlock()
			continue
		}
		for _, idx := range c.indexes {
			idx.Remove(r.key, r.doc)
		}
		r.deleted = true
		c.records.remove(r)
		c.db.notify(ChangeEvent{
			Operation:  OperationDelete,
			Collection: c.name,
			DocumentID: r.id,
		})
		r.mu.Unlock()
		deleted++
	}
	return deleted, nil
}

// Aggregate runs a pipeline over the collection. A leading $match is also
// used to pick an index.
func (c *Collection) Aggregate(ctx context.Context, stages []*document.Document) ([]*document.Document, error) {
	pipeline, err := aggregation.NewPipeline(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var filter *document.Document
	if len(stages) > 0 {
		if m, ok := stages[0].Get("$match"); ok && stages[0].Len() == 1 {
			filter, _ = m.(*document.Document)
		}
	}

	cursor, err := c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return pipeline.Execute(ctx, cursor)
}

// CreateIndex builds an index over the existing documents and registers
// it. If the index is unique and the documents already hold a duplicate
// key, ErrConstraintViolation is returned and nothing is registered.
// Creating an index that already exists with the same keys is a no-op.
func (c *Collection) CreateIndex(ctx context.Context, keys *document.Document, options *IndexOptions) (string, error) {
	fields, err := index.ParseKeys(keys)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	if options == nil {
		options = &IndexOptions{}
	}

	name := options.Name
	if name == "" {
		name = index.DefaultName(fields)
	}

	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	if c.closedErr != nil {
		return "", c.closedErr
	}

	for _, existing := range c.indexes {
		if existing.Name() != name {
			continue
		}
		if existing.KeySpec().Equal(keys) && existing.IsUnique() == options.Unique {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	idx := index.NewIndex(&index.Config{
		Name:    name,
		Keys:    fields,
		Unique:  options.Unique,
		Buckets: c.buckets,
	})

	// Writers are excluded while idxMu is held, so the build sees a
	// stable record set.
	for _, r := range c.records.all() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.mu.RLock()
		if !r.deleted {
			err = idx.Insert(r.key, r.doc)
		}
		r.mu.RUnlock()
		if err != nil {
			return "", fmt.Errorf("create index %s on %s: %w", name, c.name, err)
		}
	}

	c.indexes = append(c.indexes, idx)
	return name, nil
}

// DropIndex removes an index by name. The _id index cannot be dropped.
func (c *Collection) DropIndex(name string) error {
	if name == IDIndexName {
		return fmt.Errorf("%w: cannot drop the %s index", ErrInvalidExpression, IDIndexName)
	}

	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	if c.closedErr != nil {
		return c.closedErr
	}

	for i, idx := range c.indexes {
		if idx.Name() == name {
			c.indexes = append(c.indexes[:i:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
}

// Indexes returns the index definitions in creation order
func (c *Collection) Indexes() []IndexInfo {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()

	infos := make([]IndexInfo, 0, len(c.indexes))
	for _, idx := range c.indexes {
		infos = append(infos, IndexInfo{
			Name:   idx.Name(),
			Keys:   idx.KeySpec(),
			Unique: idx.IsUnique(),
		})
	}
	return infos
}

// ListIndexes returns the definition and statistics of every index
func (c *Collection) ListIndexes() []map[string]interface{} {
	c.idxMu.RLock()
	defer c.idxMu.RUnlock()

	indexes := make([]map[string]interface{}, 0, len(c.indexes))
	for _, idx := range c.indexes {
		indexes = append(indexes, idx.Stats())
	}
	return indexes
}

// ChooseIndex returns the name of the index Find would use for filter, or
// "" for a collection scan
func (c *Collection) ChooseIndex(filter *document.Document) (string, error) {
	f, err := query.Parse(filter)
	if err != nil {
		return "", err
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()

	if choice := index.Choose(c.indexes, f.EqualityValues()); choice != nil {
		return choice.Index.Name(), nil
	}
	return "", nil
}

// Explain describes how Find would execute filter
func (c *Collection) Explain(filter *document.Document) (map[string]interface{}, error) {
	f, err := query.Parse(filter)
	if err != nil {
		return nil, err
	}

	c.idxMu.RLock()
	defer c.idxMu.RUnlock()

	records, choice := c.choose(f)
	available := make([]string, 0, len(c.indexes))
	for _, idx := range c.indexes {
		available = append(available, idx.Name())
	}

	explanation := map[string]interface{}{
		"collection":       c.name,
		"totalDocuments":   c.records.len(),
		"docsExamined":     len(records),
		"availableIndexes": available,
	}
	if choice == nil {
		explanation["stage"] = "COLLSCAN"
		return explanation, nil
	}

	explanation["stage"] = "IXSCAN"
	explanation["indexName"] = choice.Index.Name()
	explanation["indexPrefix"] = choice.Index.FieldPaths()[:len(choice.Prefix)]
	return explanation, nil
}

// Stats returns collection statistics
func (c *Collection) Stats() map[string]interface{} {
	return map[string]interface{}{
		"name":          c.name,
		"count":         c.records.len(),
		"index_count":   len(c.Indexes()),
		"index_details": c.ListIndexes(),
	}
}
