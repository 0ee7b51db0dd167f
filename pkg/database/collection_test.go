package database

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/index"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func doc(s string) *document.Document {
	return document.MustParseJSON(s)
}

func mustInsert(t *testing.T, coll *Collection, docs ...string) []interface{} {
	t.Helper()
	ids := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		id, err := coll.InsertOne(context.Background(), doc(d))
		if err != nil {
			t.Fatalf("InsertOne(%s) failed: %v", d, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func findAll(t *testing.T, coll *Collection, filter string) []*document.Document {
	t.Helper()
	cursor, err := coll.Find(context.Background(), doc(filter))
	if err != nil {
		t.Fatalf("Find(%s) failed: %v", filter, err)
	}
	docs, err := cursor.All(context.Background())
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	return docs
}

func TestInsertAssignsObjectID(t *testing.T) {
	coll := newTestDB(t).Collection("users")
	ids := mustInsert(t, coll, `{"name": "Maria Garcia", "email": "maria.garcia@email.com"}`)

	if _, ok := ids[0].(document.ObjectID); !ok {
		t.Fatalf("Expected ObjectID, got %T", ids[0])
	}

	found, err := coll.FindOne(context.Background(), doc(`{"email": "maria.garcia@email.com"}`))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if keys := found.Keys(); keys[0] != "_id" {
		t.Errorf("Expected _id first, got %v", keys)
	}
}

func TestInsertDoesNotRetainCallerDocument(t *testing.T) {
	coll := newTestDB(t).Collection("users")
	in := doc(`{"_id": 1, "name": "Maria"}`)
	coll.InsertOne(context.Background(), in)
	in.Set("name", "changed")

	found, _ := coll.FindOne(context.Background(), doc(`{"_id": 1}`))
	if name, _ := found.Get("name"); name != "Maria" {
		t.Errorf("Expected stored copy to be unaffected, got %v", name)
	}
}

func TestUniqueEmail(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	if _, err := coll.CreateIndex(ctx, doc(`{"email": 1}`), &IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}

	mustInsert(t, coll, `{"name": "Maria Garcia", "email": "maria.garcia@email.com"}`)
	_, err := coll.InsertOne(ctx, doc(`{"name": "Maria G.", "email": "maria.garcia@email.com"}`))
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation, got %v", err)
	}
	var dup *index.DuplicateKeyError
	if !errors.As(err, &dup) || dup.Index != "email_1" {
		t.Errorf("Expected DuplicateKeyError on email_1, got %v", err)
	}

	if n, _ := coll.Count(ctx, doc(`{"email": "maria.garcia@email.com"}`)); n != 1 {
		t.Errorf("Expected exactly one stored user, got %d", n)
	}
	if n, _ := coll.Count(ctx, nil); n != 1 {
		t.Errorf("Expected the failed insert to leave no trace, got %d documents", n)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	if _, err := coll.CreateIndex(ctx, doc(`{"email": 1}`), &IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	mustInsert(t, coll, `{"_id": 7, "name": "a", "email": "a@email.com"}`)

	if _, err := coll.InsertOne(ctx, doc(`{"_id": 7.0, "name": "b", "email": "b@email.com"}`)); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("Expected duplicate _id to fail, got %v", err)
	}

	got, err := coll.FindOne(ctx, doc(`{"_id": 7}`))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if name, _ := got.Get("name"); name != "a" {
		t.Errorf("Expected the original document to survive, got %v", got)
	}
	if n, _ := coll.Count(ctx, doc(`{"email": "b@email.com"}`)); n != 0 {
		t.Errorf("Expected no entry for the rejected email, got %d", n)
	}

	// The rejected document's email is free, the original's is not
	mustInsert(t, coll, `{"_id": 8, "email": "b@email.com"}`)
	if _, err := coll.InsertOne(ctx, doc(`{"_id": 9, "email": "a@email.com"}`)); !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("Expected the original email to stay unique, got %v", err)
	}
}

func TestIndexAgreesWithScanOnNumbers(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("numbers")

	big := document.NewDocument()
	big.Set("n", int64(9007199254740993))
	negZero := document.NewDocument()
	negZero.Set("n", math.Copysign(0, -1))
	for _, d := range []*document.Document{big, negZero} {
		if _, err := coll.InsertOne(ctx, d); err != nil {
			t.Fatalf("InsertOne failed: %v", err)
		}
	}

	filters := []string{`{"n": 0}`, `{"n": 9007199254740992}`}
	before := make([]int, len(filters))
	for i, f := range filters {
		before[i], _ = coll.Count(ctx, doc(f))
	}
	if _, err := coll.CreateIndex(ctx, doc(`{"n": 1}`), &IndexOptions{Unique: true}); err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	for i, f := range filters {
		after, _ := coll.Count(ctx, doc(f))
		if after != before[i] {
			t.Errorf("%s: scan counted %d, index counted %d", f, before[i], after)
		}
	}
	if before[0] != 1 || before[1] != 0 {
		t.Errorf("Unexpected scan counts %v", before)
	}

	other := document.NewDocument()
	other.Set("n", int64(9007199254740992))
	if _, err := coll.InsertOne(ctx, other); err != nil {
		t.Errorf("Expected a distinct large integer to pass the unique index, got %v", err)
	}
}

func TestUniqueIndexOverExistingDuplicates(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	mustInsert(t, coll, `{"email": "a@email.com"}`, `{"email": "a@email.com"}`)

	_, err := coll.CreateIndex(ctx, doc(`{"email": 1}`), &IndexOptions{Unique: true})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation, got %v", err)
	}
	if len(coll.Indexes()) != 1 {
		t.Errorf("Expected failed index not to be registered, got %v", coll.Indexes())
	}

	// Writes keep working without the index
	mustInsert(t, coll, `{"email": "a@email.com"}`)
}

func TestCreateIndexIdempotentAndConflicts(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("content")

	name, err := coll.CreateIndex(ctx, doc(`{"type": 1, "genres": 1}`), nil)
	if err != nil || name != "type_1_genres_1" {
		t.Fatalf("CreateIndex returned %q, %v", name, err)
	}
	if _, err := coll.CreateIndex(ctx, doc(`{"type": 1, "genres": 1}`), nil); err != nil {
		t.Errorf("Expected identical CreateIndex to succeed, got %v", err)
	}
	if _, err := coll.CreateIndex(ctx, doc(`{"type": 1}`), &IndexOptions{Name: "type_1_genres_1"}); !errors.Is(err, ErrIndexExists) {
		t.Errorf("Expected ErrIndexExists, got %v", err)
	}
	if _, err := coll.CreateIndex(ctx, doc(`{"type": "text"}`), nil); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected ErrInvalidExpression, got %v", err)
	}

	if err := coll.DropIndex("type_1_genres_1"); err != nil {
		t.Errorf("DropIndex failed: %v", err)
	}
	if err := coll.DropIndex("type_1_genres_1"); !errors.Is(err, ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}
	if err := coll.DropIndex(IDIndexName); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected dropping _id_ to fail, got %v", err)
	}
}

func TestMissingFieldNeverMatchesIn(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	mustInsert(t, coll,
		`{"name": "Maria", "country": "Mexico"}`,
		`{"name": "Ana"}`,
		`{"name": "Carlos", "country": "Argentina"}`,
	)

	for _, withIndex := range []bool{false, true} {
		if withIndex {
			coll.CreateIndex(ctx, doc(`{"country": 1}`), nil)
		}
		docs := findAll(t, coll, `{"country": {"$in": ["Mexico", "Argentina", "Colombia"]}}`)
		if len(docs) != 2 {
			t.Errorf("index=%v: expected 2 users, got %d", withIndex, len(docs))
		}
		if docs := findAll(t, coll, `{"country": null}`); len(docs) != 0 {
			t.Errorf("index=%v: expected no user to match null, got %d", withIndex, len(docs))
		}
	}
}

func TestFindUsesIndexAndRechecksFilter(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("multimedia_content")
	coll.CreateIndex(ctx, doc(`{"type": 1, "genres": 1}`), nil)
	mustInsert(t, coll,
		`{"title": "The Dark Knight", "type": "movie", "genres": ["Action", "Drama"], "average_rating": 4.9}`,
		`{"title": "Stranger Things", "type": "series", "genres": ["Drama", "Fantasy"], "average_rating": 4.7}`,
		`{"title": "Inception", "type": "movie", "genres": ["Action", "Sci-Fi"], "average_rating": 4.8}`,
		`{"title": "Coco", "type": "movie", "genres": ["Animation"], "average_rating": 4.5}`,
	)

	filter := `{"type": "movie", "average_rating": {"$gte": 4.8}}`
	docs := findAll(t, coll, filter)
	if len(docs) != 2 {
		t.Fatalf("Expected 2 high-rated movies, got %v", docs)
	}
	if title, _ := docs[0].Get("title"); title != "The Dark Knight" {
		t.Errorf("Expected insertion order, got %v first", title)
	}

	plan, err := coll.Explain(doc(filter))
	if err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	if plan["stage"] != "IXSCAN" || plan["indexName"] != "type_1_genres_1" || plan["docsExamined"] != 3 {
		t.Errorf("Unexpected plan %v", plan)
	}

	if name, _ := coll.ChooseIndex(doc(`{"genres": "Fantasy"}`)); name != "" {
		t.Errorf("Expected collection scan without leading field, got %s", name)
	}
	if docs := findAll(t, coll, `{"genres": "Fantasy"}`); len(docs) != 1 {
		t.Errorf("Expected 1 fantasy title, got %d", len(docs))
	}
	if docs := findAll(t, coll, `{"type": "series", "genres": "Fantasy"}`); len(docs) != 1 {
		t.Errorf("Expected multikey lookup to find Stranger Things, got %d", len(docs))
	}

	// Explain and ChooseIndex plan without running
	indexes := coll.ListIndexes()
	if len(indexes) != 1 || indexes[0]["uses"] != int64(2) {
		t.Errorf("Expected 2 index uses, got %v", indexes)
	}
}

func TestPushRoundTrip(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	mustInsert(t, coll, `{"email": "maria.garcia@email.com", "viewing_history": [{"title": "Dark", "watched_time": 50}]}`)

	n, err := coll.UpdateOne(ctx,
		doc(`{"email": "maria.garcia@email.com"}`),
		doc(`{"$push": {"viewing_history": {"title": "Stranger Things", "viewing_date": "2024-02-08T21:30:00Z", "watched_time": 180, "completed": false}}}`))
	if err != nil || n != 1 {
		t.Fatalf("UpdateOne returned %d, %v", n, err)
	}

	user, _ := coll.FindOne(ctx, doc(`{"email": "maria.garcia@email.com"}`))
	history, _ := user.Get("viewing_history")
	arr := history.([]interface{})
	if len(arr) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(arr))
	}
	first, _ := arr[0].(*document.Document).Get("title")
	second, _ := arr[1].(*document.Document).Get("title")
	if first != "Dark" || second != "Stranger Things" {
		t.Errorf("Expected append order [Dark, Stranger Things], got [%v, %v]", first, second)
	}
}

func TestUpdateOneFirstInInsertionOrder(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("multimedia_content")
	mustInsert(t, coll, `{"n": 1, "type": "movie"}`, `{"n": 2, "type": "movie"}`)

	n, err := coll.UpdateOne(ctx, doc(`{"type": "movie"}`), doc(`{"$set": {"featured": true}}`))
	if err != nil || n != 1 {
		t.Fatalf("UpdateOne returned %d, %v", n, err)
	}
	featured := findAll(t, coll, `{"featured": true}`)
	if len(featured) != 1 {
		t.Fatalf("Expected one featured document, got %d", len(featured))
	}
	if v, _ := featured[0].Get("n"); v != int64(1) {
		t.Errorf("Expected first inserted document to be updated, got n=%v", v)
	}

	if n, err := coll.UpdateOne(ctx, doc(`{"type": "podcast"}`), doc(`{"$set": {"x": 1}}`)); err != nil || n != 0 {
		t.Errorf("Expected zero matches to return 0, nil; got %d, %v", n, err)
	}
}

func TestUpdateMaintainsIndexes(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	coll.CreateIndex(ctx, doc(`{"email": 1}`), &IndexOptions{Unique: true})
	mustInsert(t, coll, `{"email": "a@email.com"}`, `{"email": "b@email.com"}`)

	if _, err := coll.UpdateOne(ctx, doc(`{"email": "b@email.com"}`), doc(`{"$set": {"email": "a@email.com"}}`)); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("Expected ErrConstraintViolation, got %v", err)
	}
	if docs := findAll(t, coll, `{"email": "b@email.com"}`); len(docs) != 1 {
		t.Errorf("Expected failed update to leave document and index intact, got %d", len(docs))
	}

	coll.UpdateOne(ctx, doc(`{"email": "b@email.com"}`), doc(`{"$set": {"email": "c@email.com"}}`))
	if docs := findAll(t, coll, `{"email": "c@email.com"}`); len(docs) != 1 {
		t.Errorf("Expected index to follow update, got %d", len(docs))
	}
	if docs := findAll(t, coll, `{"email": "b@email.com"}`); len(docs) != 0 {
		t.Errorf("Expected old key to be gone, got %d", len(docs))
	}
}

func TestUpdateManyAndImmutableID(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("playlists")
	mustInsert(t, coll, `{"public": true, "followers": 5}`, `{"public": false, "followers": 2}`, `{"public": true, "followers": 1}`)

	n, err := coll.UpdateMany(ctx, doc(`{"public": true}`), doc(`{"$inc": {"followers": 10}}`))
	if err != nil || n != 2 {
		t.Fatalf("UpdateMany returned %d, %v", n, err)
	}
	if docs := findAll(t, coll, `{"followers": {"$gte": 10}}`); len(docs) != 2 {
		t.Errorf("Expected 2 updated playlists, got %d", len(docs))
	}

	if _, err := coll.UpdateOne(ctx, doc(`{}`), doc(`{"$set": {"_id": 1}}`)); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected _id update to fail, got %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("interactions")
	mustInsert(t, coll,
		`{"interaction_type": "like", "interaction_date": "2023-12-06T21:00:00Z"}`,
		`{"interaction_type": "comment", "interaction_date": "2024-02-07T20:30:00Z"}`,
		`{"interaction_type": "like", "interaction_date": "2023-06-01T10:00:00Z"}`,
	)

	n, err := coll.DeleteMany(ctx, doc(`{"interaction_date": {"$lt": "2024-01-01T00:00:00Z"}}`))
	if err != nil || n != 2 {
		t.Fatalf("DeleteMany returned %d, %v", n, err)
	}
	if remaining, _ := coll.Count(ctx, nil); remaining != 1 {
		t.Errorf("Expected 1 remaining interaction, got %d", remaining)
	}
	if n, err := coll.DeleteMany(ctx, doc(`{"interaction_type": "share"}`)); err != nil || n != 0 {
		t.Errorf("Expected zero deletes, got %d, %v", n, err)
	}
}

func TestDeletedIDCanBeReused(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	mustInsert(t, coll, `{"_id": "u1", "name": "a"}`)
	coll.DeleteMany(ctx, doc(`{"_id": "u1"}`))
	mustInsert(t, coll, `{"_id": "u1", "name": "b"}`)

	found, err := coll.FindOne(ctx, doc(`{"_id": "u1"}`))
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if name, _ := found.Get("name"); name != "b" {
		t.Errorf("Expected reinserted document, got %v", name)
	}
}

func TestRatingsSortedByDate(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("ratings")
	coll.CreateIndex(ctx, doc(`{"rating_date": -1}`), nil)
	mustInsert(t, coll,
		`{"rating": 5, "comment": "Incredible movie", "rating_date": "2024-02-03T20:00:00Z"}`,
		`{"rating": 4, "comment": "Great series", "rating_date": "2024-02-05T22:30:00Z"}`,
	)

	cursor, err := coll.FindWithOptions(ctx, nil, &QueryOptions{Sort: doc(`{"rating_date": -1}`)})
	if err != nil {
		t.Fatalf("FindWithOptions failed: %v", err)
	}
	docs, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 ratings, got %d", len(docs))
	}
	if r, _ := docs[0].Get("rating"); r != int64(4) {
		t.Errorf("Expected most recent rating first, got %v", r)
	}
}

func TestFindWithOptions(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("content")
	for i := 0; i < 10; i++ {
		mustInsert(t, coll, fmt.Sprintf(`{"n": %d, "secret": true}`, i))
	}

	cursor, err := coll.FindWithOptions(ctx, doc(`{"n": {"$gte": 2}}`), &QueryOptions{
		Sort:       doc(`{"n": -1}`),
		Skip:       1,
		Limit:      3,
		Projection: doc(`{"_id": 0, "n": 1}`),
	})
	if err != nil {
		t.Fatalf("FindWithOptions failed: %v", err)
	}
	docs, _ := cursor.All(ctx)
	if len(docs) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(docs))
	}
	for i, expected := range []int64{8, 7, 6} {
		if v, _ := docs[i].Get("n"); v != expected || docs[i].Len() != 1 {
			t.Errorf("Position %d: expected {n: %d}, got %v", i, expected, docs[i])
		}
	}

	if _, err := coll.FindWithOptions(ctx, nil, &QueryOptions{Sort: doc(`{"n": 5}`)}); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected invalid sort to fail, got %v", err)
	}
}

func TestCursorSnapshot(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("content")
	mustInsert(t, coll, `{"_id": 1}`, `{"_id": 2}`, `{"_id": 3}`)

	cursor, err := coll.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	first, _ := cursor.Next(ctx)
	if id, _ := first.Get("_id"); id != int64(1) {
		t.Fatalf("Expected _id 1 first, got %v", id)
	}

	// Inserted after Find: not part of the snapshot. Deleted before the
	// cursor reaches it: skipped.
	mustInsert(t, coll, `{"_id": 4}`)
	coll.DeleteMany(ctx, doc(`{"_id": 2}`))

	rest, err := cursor.All(ctx)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("Expected only _id 3 to remain, got %v", rest)
	}
	if id, _ := rest[0].Get("_id"); id != int64(3) {
		t.Errorf("Expected _id 3, got %v", id)
	}
	if cursor.Returned() != 2 {
		t.Errorf("Expected 2 documents returned, got %d", cursor.Returned())
	}
}

func TestCollectionNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetCollection("nope"); !errors.Is(err, ErrCollectionNotFound) || !IsNotFound(err) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}
	if err := db.DropCollection("nope"); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected ErrCollectionNotFound, got %v", err)
	}

	db.Collection("users")
	if _, err := db.GetCollection("users"); err != nil {
		t.Errorf("Expected users to exist, got %v", err)
	}
	if names := db.ListCollections(); len(names) != 1 || names[0] != "users" {
		t.Errorf("Unexpected collections %v", names)
	}
}

func TestFindOneNotFoundAndInvalidFilter(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	if _, err := coll.FindOne(ctx, doc(`{"email": "x"}`)); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Expected ErrDocumentNotFound, got %v", err)
	}
	if _, err := coll.Find(ctx, doc(`{"age": {"$gt": [1]}}`)); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected ErrInvalidExpression, got %v", err)
	}
}

func TestAggregateWithLeadingMatch(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("multimedia_content")
	coll.CreateIndex(ctx, doc(`{"type": 1}`), nil)
	mustInsert(t, coll,
		`{"type": "movie", "average_rating": 4.0}`,
		`{"type": "movie", "average_rating": 5.0}`,
		`{"type": "movie"}`,
		`{"type": "series", "average_rating": 1.0}`,
	)

	stages, _ := document.ParseJSONArray([]byte(`[
		{"$match": {"type": "movie"}},
		{"$group": {"_id": "$type", "avg_rating": {"$avg": "$average_rating"}}}
	]`))
	results, err := coll.Aggregate(ctx, stages)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected one group, got %d", len(results))
	}
	if avg, _ := results[0].Get("avg_rating"); avg != 4.5 {
		t.Errorf("Expected avg 4.5, got %v", avg)
	}

	bad, _ := document.ParseJSONArray([]byte(`[{"$bucket": {}}]`))
	if _, err := coll.Aggregate(ctx, bad); !errors.Is(err, ErrInvalidExpression) {
		t.Errorf("Expected ErrInvalidExpression, got %v", err)
	}
}

func TestChangeEvents(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	coll := db.Collection("playlists")

	var mu sync.Mutex
	var events []ChangeEvent
	stop := db.Watch(func(e ChangeEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	mustInsert(t, coll, `{"_id": 1, "contents": []}`)
	coll.UpdateOne(ctx, doc(`{"_id": 1}`), doc(`{"$push": {"contents": {"title": "Dark"}}, "$inc": {"total_contents": 1}}`))
	coll.DeleteMany(ctx, doc(`{"_id": 1}`))
	stop()
	mustInsert(t, coll, `{"_id": 2}`)

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	expected := []Operation{OperationInsert, OperationUpdate, OperationDelete}
	for i, op := range expected {
		if events[i].Operation != op || events[i].Collection != "playlists" || events[i].DocumentID != int64(1) {
			t.Errorf("Event %d: unexpected %+v", i, events[i])
		}
	}
	if len(events[1].UpdatedFields) != 2 || events[1].Document == nil {
		t.Errorf("Expected update event with document and fields, got %+v", events[1])
	}
}

func TestConcurrentUniqueInserts(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("users")
	coll.CreateIndex(ctx, doc(`{"email": 1}`), &IndexOptions{Unique: true})

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := coll.InsertOne(ctx, doc(fmt.Sprintf(`{"email": "user%d@email.com"}`, i%10)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if err != nil {
			if !errors.Is(err, ErrConstraintViolation) {
				t.Errorf("Unexpected error %v", err)
			}
			failures++
		}
	}
	if failures != 30 {
		t.Errorf("Expected 30 duplicate failures, got %d", failures)
	}
	if n, _ := coll.Count(ctx, nil); n != 10 {
		t.Errorf("Expected 10 users, got %d", n)
	}
}

func TestConcurrentIncrementsAreAtomic(t *testing.T) {
	ctx := context.Background()
	coll := newTestDB(t).Collection("multimedia_content")
	mustInsert(t, coll, `{"_id": "dk", "total_ratings": 0}`)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll.UpdateOne(ctx, doc(`{"_id": "dk"}`), doc(`{"$inc": {"total_ratings": 1}}`))
		}()
	}
	// Readers and index builds run alongside the writers
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coll.Find(ctx, nil)
			coll.CreateIndex(ctx, doc(fmt.Sprintf(`{"f%d": 1}`, i)), nil)
		}(i)
	}
	wg.Wait()

	found, _ := coll.FindOne(ctx, doc(`{"_id": "dk"}`))
	if v, _ := found.Get("total_ratings"); v != int64(50) {
		t.Errorf("Expected 50 increments, got %v", v)
	}
}

func TestConcurrentUpdateEventsInCommitOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	coll := db.Collection("multimedia_content")
	mustInsert(t, coll, `{"_id": "dk", "total_ratings": 0}`)

	var mu sync.Mutex
	var seen []int64
	stop := db.Watch(func(e ChangeEvent) {
		if e.Operation != OperationUpdate {
			return
		}
		v, _ := e.Document.Get("total_ratings")
		mu.Lock()
		seen = append(seen, v.(int64))
		mu.Unlock()
	})
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll.UpdateOne(ctx, doc(`{"_id": "dk"}`), doc(`{"$inc": {"total_ratings": 1}}`))
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Fatalf("Expected 50 update events, got %d", len(seen))
	}
	for i, v := range seen {
		if v != int64(i+1) {
			t.Fatalf("Event %d carried total_ratings %d; events out of commit order: %v", i, v, seen)
		}
	}
}

func TestDropCollection(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	coll := db.Collection("ratings")
	mustInsert(t, coll, `{"_id": 1}`)

	var events []ChangeEvent
	stop := db.Watch(func(e ChangeEvent) { events = append(events, e) })
	defer stop()

	if err := db.DropCollection("ratings"); err != nil {
		t.Fatalf("DropCollection failed: %v", err)
	}
	if len(events) != 1 || events[0].Operation != OperationDrop || events[0].Collection != "ratings" {
		t.Fatalf("Expected one drop event, got %+v", events)
	}

	if _, err := coll.InsertOne(ctx, doc(`{"_id": 2}`)); !IsNotFound(err) {
		t.Errorf("Expected writes through a dropped handle to fail, got %v", err)
	}
	if _, err := coll.Find(ctx, nil); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected reads through a dropped handle to fail, got %v", err)
	}
	if _, err := coll.CreateIndex(ctx, doc(`{"rating": 1}`), nil); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("Expected CreateIndex on a dropped handle to fail, got %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected no events after the drop, got %+v", events)
	}

	fresh := db.Collection("ratings")
	if n, _ := fresh.Count(ctx, nil); n != 0 {
		t.Errorf("Expected the recreated collection to be empty, got %d", n)
	}
	mustInsert(t, fresh, `{"_id": 1}`)
}

func TestClosedDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := Open(DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	coll := db.Collection("users")
	db.Close()

	if _, err := coll.InsertOne(ctx, doc(`{"name": "a"}`)); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed from an open handle, got %v", err)
	}
	if _, err := db.Collection("users").InsertOne(ctx, doc(`{"name": "a"}`)); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed from a new handle, got %v", err)
	}
	if names := db.ListCollections(); len(names) != 0 {
		t.Errorf("Expected no collections to be created, got %v", names)
	}
	if _, err := db.CreateCollection("x"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}
	if err := db.DropCollection("users"); !errors.Is(err, ErrDatabaseClosed) {
		t.Errorf("Expected ErrDatabaseClosed, got %v", err)
	}
}
