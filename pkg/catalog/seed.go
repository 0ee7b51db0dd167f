package catalog

import (
	"context"
	"fmt"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
)

// IndexDef declares an index of the catalog
type IndexDef struct {
	Collection string
	Keys       string // key specification as JSON, in key order
	Unique     bool
}

// Indexes are the catalog's indexes
var Indexes = []IndexDef{
	{Collection: UsersCollection, Keys: `{"email": 1}`, Unique: true},
	{Collection: UsersCollection, Keys: `{"country": 1}`},
	{Collection: ContentCollection, Keys: `{"title": 1}`},
	{Collection: ContentCollection, Keys: `{"type": 1, "genres": 1}`},
	{Collection: ContentCollection, Keys: `{"average_rating": -1}`},
	{Collection: RatingsCollection, Keys: `{"rating_date": -1}`},
	{Collection: PlaylistsCollection, Keys: `{"public": 1}`},
}

// EnsureIndexes creates the catalog's indexes. Indexes that already exist
// are left alone.
func EnsureIndexes(ctx context.Context, db *database.Database) (int, error) {
	for _, def := range Indexes {
		keys, err := document.ParseJSON([]byte(def.Keys))
		if err != nil {
			return 0, err
		}
		_, err = db.Collection(def.Collection).CreateIndex(ctx, keys, &database.IndexOptions{Unique: def.Unique})
		if err != nil {
			return 0, fmt.Errorf("failed to create index %s on %s: %w", def.Keys, def.Collection, err)
		}
	}
	return len(Indexes), nil
}

// SeedResult reports what Seed wrote
type SeedResult struct {
	Inserted map[string]int
	Indexes  int
}

// Seed creates the catalog's indexes and loads the sample data. Every
// sample document is validated before anything is inserted.
func Seed(ctx context.Context, db *database.Database) (*SeedResult, error) {
	batches := []struct {
		collection string
		models     []interface{}
	}{
		{UsersCollection, toModels(SampleUsers())},
		{ContentCollection, toModels(SampleContent())},
		{RatingsCollection, toModels(SampleRatings())},
		{PlaylistsCollection, toModels(SamplePlaylists())},
		{InteractionsCollection, toModels(SampleInteractions())},
	}

	docs := make(map[string][]*document.Document, len(batches))
	for _, batch := range batches {
		for _, model := range batch.models {
			if err := ValidateModel(model); err != nil {
				return nil, err
			}
			doc, err := document.From(model)
			if err != nil {
				return nil, err
			}
			docs[batch.collection] = append(docs[batch.collection], doc)
		}
	}

	result := &SeedResult{Inserted: make(map[string]int)}
	n, err := EnsureIndexes(ctx, db)
	if err != nil {
		return nil, err
	}
	result.Indexes = n

	for _, batch := range batches {
		ids, err := db.Collection(batch.collection).InsertMany(ctx, docs[batch.collection])
		result.Inserted[batch.collection] = len(ids)
		if err != nil {
			return result, fmt.Errorf("failed to seed %s: %w", batch.collection, err)
		}
	}
	return result, nil
}

func toModels[T any](items []T) []interface{} {
	out := make([]interface{}, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return out
}
