package graphql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/mnohosten/streamhub/pkg/catalog"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
)

// ErrChangeStreamsDisabled is returned by subscriptions when the schema was
// built without a change stream hub
var ErrChangeStreamsDisabled = errors.New("change streams are not enabled")

// Resolver handles GraphQL query, mutation and subscription resolution
type Resolver struct {
	db  *database.Database
	hub *changestream.Hub
}

// NewResolver creates a new Resolver instance. hub may be nil, in which
// case subscriptions fail.
func NewResolver(db *database.Database, hub *changestream.Hub) *Resolver {
	return &Resolver{db: db, hub: hub}
}

func contextOf(p graphql.ResolveParams) context.Context {
	if p.Context != nil {
		return p.Context
	}
	return context.Background()
}

func stringArg(p graphql.ResolveParams, name string) (string, error) {
	s, ok := p.Args[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return s, nil
}

// documentArg returns an optional JSON argument as a document
func documentArg(p graphql.ResolveParams, name string) (*document.Document, error) {
	v, ok := p.Args[name]
	if !ok || v == nil {
		return nil, nil
	}
	doc, ok := v.(*document.Document)
	if !ok {
		return nil, fmt.Errorf("%s must be a JSON object", name)
	}
	return doc, nil
}

func requiredDocumentArg(p graphql.ResolveParams, name string) (*document.Document, error) {
	doc, err := documentArg(p, name)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%s is required", name)
	}
	return doc, nil
}

// existing looks up a collection without creating it
func (r *Resolver) existing(p graphql.ResolveParams) (*database.Collection, error) {
	name, err := stringArg(p, "collection")
	if err != nil {
		return nil, err
	}
	return r.db.GetCollection(name)
}

// implicit looks up a collection, creating it on first write
func (r *Resolver) implicit(p graphql.ResolveParams) (*database.Collection, error) {
	name, err := stringArg(p, "collection")
	if err != nil {
		return nil, err
	}
	return r.db.Collection(name), nil
}

func idString(id interface{}) string {
	if oid, ok := id.(document.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", id)
}

func toResult(doc *document.Document) map[string]interface{} {
	id, _ := doc.Get("_id")
	return map[string]interface{}{
		"_id":  idString(id),
		"data": doc,
	}
}

func toResults(docs []*document.Document) []map[string]interface{} {
	results := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		results[i] = toResult(doc)
	}
	return results
}

// FindOne resolves the findOne query
func (r *Resolver) FindOne(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := documentArg(p, "filter")
	if err != nil {
		return nil, err
	}

	doc, err := coll.FindOne(contextOf(p), filter)
	if errors.Is(err, database.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find failed: %w", err)
	}
	return toResult(doc), nil
}

// Find resolves the find query
func (r *Resolver) Find(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := documentArg(p, "filter")
	if err != nil {
		return nil, err
	}

	opts := &database.QueryOptions{}
	if opts.Sort, err = documentArg(p, "sort"); err != nil {
		return nil, err
	}
	if opts.Projection, err = documentArg(p, "projection"); err != nil {
		return nil, err
	}
	if limit, ok := p.Args["limit"].(int); ok {
		opts.Limit = limit
	}
	if skip, ok := p.Args["skip"].(int); ok {
		opts.Skip = skip
	}

	ctx := contextOf(p)
	cursor, err := coll.FindWithOptions(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find failed: %w", err)
	}
	docs, err := cursor.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("find failed: %w", err)
	}
	return toResults(docs), nil
}

// Count resolves the count query
func (r *Resolver) Count(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := documentArg(p, "filter")
	if err != nil {
		return nil, err
	}
	count, err := coll.Count(contextOf(p), filter)
	if err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}
	return count, nil
}

// ListCollections resolves the listCollections query
func (r *Resolver) ListCollections(p graphql.ResolveParams) (interface{}, error) {
	return r.db.ListCollections(), nil
}

// CollectionStats resolves the collectionStats query
func (r *Resolver) CollectionStats(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	stats := coll.Stats()
	return map[string]interface{}{
		"name":          coll.Name(),
		"documentCount": stats["count"],
		"indexCount":    stats["index_count"],
	}, nil
}

// ListIndexes resolves the listIndexes query
func (r *Resolver) ListIndexes(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}

	infos := coll.Indexes()
	results := make([]map[string]interface{}, len(infos))
	for i, info := range infos {
		results[i] = map[string]interface{}{
			"name":       info.Name,
			"keys":       info.Keys,
			"fieldPaths": info.Keys.Keys(),
			"unique":     info.Unique,
			"compound":   info.Keys.Len() > 1,
		}
	}
	return results, nil
}

// Explain resolves the explain query
func (r *Resolver) Explain(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := documentArg(p, "filter")
	if err != nil {
		return nil, err
	}
	plan, err := coll.Explain(filter)
	if err != nil {
		return nil, err
	}
	return document.NewDocumentFromMap(plan), nil
}

// Aggregate resolves the aggregate query
func (r *Resolver) Aggregate(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	stages, err := document.DocumentsFrom(p.Args["pipeline"])
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	results, err := coll.Aggregate(contextOf(p), stages)
	if err != nil {
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}
	return map[string]interface{}{"results": results}, nil
}

// CatalogOperations resolves the catalogOperations query
func (r *Resolver) CatalogOperations(p graphql.ResolveParams) (interface{}, error) {
	ops := catalog.Operations()
	results := make([]map[string]interface{}, len(ops))
	for i, op := range ops {
		results[i] = map[string]interface{}{
			"name":        op.Name,
			"description": op.Description,
			"collection":  op.Collection,
			"kind":        string(op.Kind),
		}
	}
	return results, nil
}

// CreateCollection resolves the createCollection mutation
func (r *Resolver) CreateCollection(p graphql.ResolveParams) (interface{}, error) {
	name, err := stringArg(p, "name")
	if err != nil {
		return nil, err
	}
	if _, err := r.db.CreateCollection(name); err != nil {
		return false, fmt.Errorf("failed to create collection: %w", err)
	}
	return true, nil
}

// DropCollection resolves the dropCollection mutation
func (r *Resolver) DropCollection(p graphql.ResolveParams) (interface{}, error) {
	name, err := stringArg(p, "name")
	if err != nil {
		return nil, err
	}
	if err := r.db.DropCollection(name); err != nil {
		return false, fmt.Errorf("failed to drop collection: %w", err)
	}
	return true, nil
}

// InsertOne resolves the insertOne mutation
func (r *Resolver) InsertOne(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.implicit(p)
	if err != nil {
		return nil, err
	}
	doc, err := requiredDocumentArg(p, "document")
	if err != nil {
		return nil, err
	}

	id, err := coll.InsertOne(contextOf(p), doc)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}
	return map[string]interface{}{"insertedId": idString(id)}, nil
}

// InsertMany resolves the insertMany mutation
func (r *Resolver) InsertMany(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.implicit(p)
	if err != nil {
		return nil, err
	}
	docs, err := document.DocumentsFrom(p.Args["documents"])
	if err != nil {
		return nil, fmt.Errorf("invalid documents: %w", err)
	}

	ids, err := coll.InsertMany(contextOf(p), docs)
	if err != nil {
		return nil, fmt.Errorf("insert failed after %d documents: %w", len(ids), err)
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = idString(id)
	}
	return map[string]interface{}{
		"insertedIds":   idStrings,
		"insertedCount": len(ids),
	}, nil
}

func (r *Resolver) update(p graphql.ResolveParams, many bool) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := requiredDocumentArg(p, "filter")
	if err != nil {
		return nil, err
	}
	update, err := requiredDocumentArg(p, "update")
	if err != nil {
		return nil, err
	}

	var modified int
	if many {
		modified, err = coll.UpdateMany(contextOf(p), filter, update)
	} else {
		modified, err = coll.UpdateOne(contextOf(p), filter, update)
	}
	if err != nil {
		return nil, fmt.Errorf("update failed: %w", err)
	}
	return map[string]interface{}{"modifiedCount": modified}, nil
}

// UpdateOne resolves the updateOne mutation
func (r *Resolver) UpdateOne(p graphql.ResolveParams) (interface{}, error) {
	return r.update(p, false)
}

// UpdateMany resolves the updateMany mutation
func (r *Resolver) UpdateMany(p graphql.ResolveParams) (interface{}, error) {
	return r.update(p, true)
}

func (r *Resolver) delete(p graphql.ResolveParams, many bool) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	filter, err := requiredDocumentArg(p, "filter")
	if err != nil {
		return nil, err
	}

	var deleted int
	if many {
		deleted, err = coll.DeleteMany(contextOf(p), filter)
	} else {
		deleted, err = coll.DeleteOne(contextOf(p), filter)
	}
	if err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}
	return map[string]interface{}{"deletedCount": deleted}, nil
}

// DeleteOne resolves the deleteOne mutation
func (r *Resolver) DeleteOne(p graphql.ResolveParams) (interface{}, error) {
	return r.delete(p, false)
}

// DeleteMany resolves the deleteMany mutation
func (r *Resolver) DeleteMany(p graphql.ResolveParams) (interface{}, error) {
	return r.delete(p, true)
}

// CreateIndex resolves the createIndex mutation and returns the index name
func (r *Resolver) CreateIndex(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.implicit(p)
	if err != nil {
		return nil, err
	}
	keys, err := requiredDocumentArg(p, "keys")
	if err != nil {
		return nil, err
	}
	opts := &database.IndexOptions{}
	opts.Unique, _ = p.Args["unique"].(bool)
	opts.Name, _ = p.Args["name"].(string)

	name, err := coll.CreateIndex(contextOf(p), keys, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return name, nil
}

// DropIndex resolves the dropIndex mutation
func (r *Resolver) DropIndex(p graphql.ResolveParams) (interface{}, error) {
	coll, err := r.existing(p)
	if err != nil {
		return nil, err
	}
	name, err := stringArg(p, "name")
	if err != nil {
		return nil, err
	}
	if err := coll.DropIndex(name); err != nil {
		return false, err
	}
	return true, nil
}

// SeedCatalog resolves the seedCatalog mutation
func (r *Resolver) SeedCatalog(p graphql.ResolveParams) (interface{}, error) {
	result, err := catalog.Seed(contextOf(p), r.db)
	if err != nil {
		return nil, fmt.Errorf("seed failed: %w", err)
	}
	inserted := 0
	for _, n := range result.Inserted {
		inserted += n
	}
	return map[string]interface{}{
		"insertedCount": inserted,
		"indexCount":    result.Indexes,
	}, nil
}

// RunOperation resolves the runOperation mutation
func (r *Resolver) RunOperation(p graphql.ResolveParams) (interface{}, error) {
	name, err := stringArg(p, "name")
	if err != nil {
		return nil, err
	}
	op, ok := catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", name)
	}

	result, err := op.Run(contextOf(p), r.db)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	docs := result.Documents
	if docs == nil {
		docs = []*document.Document{}
	}
	return map[string]interface{}{
		"operation": result.Operation,
		"kind":      string(op.Kind),
		"documents": docs,
		"affected":  result.Affected,
	}, nil
}

// WatchCollection subscribes to the change stream. Each event becomes the
// source of one subscription result.
func (r *Resolver) WatchCollection(p graphql.ResolveParams) (interface{}, error) {
	if r.hub == nil {
		return nil, ErrChangeStreamsDisabled
	}

	opts := changestream.DefaultChangeStreamOptions()
	opts.Collection, _ = p.Args["collection"].(string)
	filter, err := documentArg(p, "filter")
	if err != nil {
		return nil, err
	}
	opts.Filter = filter
	if ops, ok := p.Args["operationTypes"].([]interface{}); ok {
		for _, op := range ops {
			if s, ok := op.(string); ok {
				opts.OperationTypes = append(opts.OperationTypes, changestream.OperationType(s))
			}
		}
	}
	if mode, ok := p.Args["fullDocument"].(string); ok && mode != "" {
		opts.FullDocument = changestream.FullDocumentOption(mode)
	}
	if after, ok := p.Args["resumeAfter"].(string); ok && after != "" {
		token, err := changestream.ParseResumeToken(after)
		if err != nil {
			return nil, err
		}
		opts.ResumeAfter = &token
	}

	stream, err := r.hub.Watch(opts)
	if err != nil {
		return nil, err
	}

	ctx := contextOf(p)
	events := make(chan interface{})
	go func() {
		defer close(events)
		defer stream.Close()
		for {
			event, err := stream.Next(ctx)
			if err != nil {
				return
			}
			select {
			case events <- eventSource(event):
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func eventSource(e *changestream.ChangeEvent) map[string]interface{} {
	source := map[string]interface{}{
		"id":            e.ID.String(),
		"operationType": string(e.OperationType),
		"collection":    e.Collection,
		"documentKey":   idString(e.DocumentKey),
		"timestamp":     e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.FullDocument != nil {
		source["fullDocument"] = e.FullDocument
	}
	if e.UpdateDescription != nil {
		source["updatedFields"] = e.UpdateDescription.UpdatedFields
		source["removedFields"] = e.UpdateDescription.RemovedFields
	}
	return source
}
