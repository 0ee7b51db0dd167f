package catalog

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
)

func seeded(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(database.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	result, err := Seed(context.Background(), db)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if result.Indexes != 7 || result.Inserted[UsersCollection] != 5 || result.Inserted[InteractionsCollection] != 3 {
		t.Fatalf("Unexpected seed result %+v", result)
	}
	return db
}

func run(t *testing.T, db *database.Database, name string) *Result {
	t.Helper()
	result, err := Run(context.Background(), db, name)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return result
}

func field(doc *document.Document, path string) interface{} {
	v, _ := doc.GetPath(path)
	return v
}

func TestSeedIndexes(t *testing.T) {
	db := seeded(t)

	users, _ := db.GetCollection(UsersCollection)
	if len(users.Indexes()) != 3 {
		t.Errorf("Expected _id, email and country indexes on users, got %v", users.Indexes())
	}
	_, err := users.InsertOne(context.Background(), document.MustParseJSON(`{"name": "Maria G", "email": "maria.garcia@email.com"}`))
	if !errors.Is(err, database.ErrConstraintViolation) {
		t.Errorf("Expected duplicate email to be rejected, got %v", err)
	}

	// Seeding again collides on the unique email index
	if _, err := Seed(context.Background(), db); !errors.Is(err, database.ErrConstraintViolation) {
		t.Errorf("Expected reseed to fail, got %v", err)
	}
}

func TestFindOperations(t *testing.T) {
	db := seeded(t)

	cases := []struct {
		name   string
		titles []string
		field  string
	}{
		{"high_rated_movies", []string{"The Dark Knight", "Inception"}, "title"},
		{"latin_american_users", []string{"Maria Garcia", "Carlos Rodriguez", "Ana Martinez"}, "name"},
		{"fantasy_content", []string{"Stranger Things", "Coco"}, "title"},
		{"recent_content", []string{"Stranger Things", "Inception", "Planet Earth II"}, "title"},
		{"latest_ratings", []string{"Incredible movie, Christopher Nolan's masterpiece!", "Great series, very addictive"}, "comment"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			docs := run(t, db, tc.name).Documents
			if len(docs) != len(tc.titles) {
				t.Fatalf("Expected %d documents, got %d", len(tc.titles), len(docs))
			}
			for i, title := range tc.titles {
				if got := field(docs[i], tc.field); got != title {
					t.Errorf("Position %d: expected %q, got %v", i, title, got)
				}
			}
		})
	}
}

func TestWriteOperations(t *testing.T) {
	ctx := context.Background()
	db := seeded(t)

	if r := run(t, db, "add_viewing_history"); r.Affected != 1 {
		t.Errorf("Expected 1 user updated, got %d", r.Affected)
	}
	users, _ := db.GetCollection(UsersCollection)
	maria, _ := users.FindOne(ctx, document.MustParseJSON(`{"email": "maria.garcia@email.com"}`))
	history := field(maria, "viewing_history").([]interface{})
	if len(history) != 3 || field(history[2].(*document.Document), "title") != "Stranger Things" {
		t.Errorf("Expected Stranger Things appended, got %v", history)
	}
	if err := Validate(UsersCollection, maria); err != nil {
		t.Errorf("Updated user should still be valid: %v", err)
	}

	if r := run(t, db, "update_dark_knight_rating"); r.Affected != 1 {
		t.Errorf("Expected 1 title updated, got %d", r.Affected)
	}
	content, _ := db.GetCollection(ContentCollection)
	dk, _ := content.FindOne(ctx, document.MustParseJSON(`{"title": "The Dark Knight"}`))
	if field(dk, "average_rating") != 4.92 || field(dk, "total_ratings") != int64(46500) {
		t.Errorf("Unexpected rating fields %v", dk)
	}

	if r := run(t, db, "remove_old_interactions"); r.Affected != 1 {
		t.Errorf("Expected 1 interaction removed, got %d", r.Affected)
	}
	interactions, _ := db.GetCollection(InteractionsCollection)
	if n, _ := interactions.Count(ctx, nil); n != 2 {
		t.Errorf("Expected 2 interactions left, got %d", n)
	}
}

func TestContentPerformance(t *testing.T) {
	docs := run(t, seeded(t), "content_performance").Documents
	if len(docs) != 3 {
		t.Fatalf("Expected 3 content types, got %d", len(docs))
	}
	expected := []string{"documentary", "movie", "series"}
	for i, typ := range expected {
		if field(docs[i], "_id") != typ {
			t.Errorf("Position %d: expected %s, got %v", i, typ, field(docs[i], "_id"))
		}
	}
	movie := docs[1]
	if field(movie, "count") != int64(3) || field(movie, "total_ratings") != int64(104000) {
		t.Errorf("Unexpected movie totals %v", movie)
	}
	if avg := field(movie, "avg_rating").(float64); math.Abs(avg-4.7666) > 0.001 {
		t.Errorf("Expected movie average ~4.767, got %v", avg)
	}
}

func TestGenrePopularity(t *testing.T) {
	docs := run(t, seeded(t), "genre_popularity").Documents
	expected := []struct {
		genre string
		count int64
	}{{"Action", 2}, {"Drama", 2}, {"Fantasy", 2}, {"Sci-Fi", 2}, {"Crime", 1}}
	if len(docs) != len(expected) {
		t.Fatalf("Expected %d genres, got %d", len(expected), len(docs))
	}
	for i, e := range expected {
		if field(docs[i], "_id") != e.genre || field(docs[i], "content_count") != e.count {
			t.Errorf("Position %d: expected %s (%d), got %v", i, e.genre, e.count, docs[i])
		}
	}
}

func TestEngagementByCountry(t *testing.T) {
	docs := run(t, seeded(t), "engagement_by_country").Documents
	if len(docs) != 5 {
		t.Fatalf("Expected 5 country groups, got %d", len(docs))
	}
	expected := []struct {
		country interface{}
		minutes int64
	}{{"Mexico", 257}, {"USA", 208}, {"Argentina", 50}, {"Colombia", 0}, {nil, 0}}
	for i, e := range expected {
		if field(docs[i], "_id") != e.country || field(docs[i], "total_watch_time") != e.minutes {
			t.Errorf("Position %d: expected %v (%d), got %v", i, e.country, e.minutes, docs[i])
		}
	}
	if field(docs[0], "avg_viewing_count") != 2.0 || field(docs[0], "user_count") != int64(1) {
		t.Errorf("Unexpected Mexico group %v", docs[0])
	}
}

func TestMostActiveUsers(t *testing.T) {
	docs := run(t, seeded(t), "most_active_users").Documents
	expected := []struct {
		name string
		avg  float64
	}{{"Maria Garcia", 128.5}, {"John Smith", 104}, {"Carlos Rodriguez", 50}}
	if len(docs) != len(expected) {
		t.Fatalf("Expected %d users, got %d", len(expected), len(docs))
	}
	for i, e := range expected {
		if field(docs[i], "name") != e.name || field(docs[i], "avg_minutes_per_content") != e.avg {
			t.Errorf("Position %d: expected %s (%v), got %v", i, e.name, e.avg, docs[i])
		}
	}
	if keys := docs[0].Keys(); len(keys) != 6 || keys[0] != "_id" {
		t.Errorf("Unexpected projected fields %v", keys)
	}
}

func TestRunUnknown(t *testing.T) {
	db, _ := database.Open(nil)
	if _, err := Run(context.Background(), db, "nope"); err == nil {
		t.Error("Expected unknown operation to fail")
	}
	if names := Reports(); len(names) != 4 || names[0] != "content_performance" {
		t.Errorf("Unexpected reports %v", names)
	}
	if len(Operations()) != 12 {
		t.Errorf("Expected 12 operations, got %d", len(Operations()))
	}
}
