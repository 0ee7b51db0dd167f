package query

import (
	"errors"
	"math"
	"testing"

	"github.com/mnohosten/streamhub/pkg/document"
)

func parse(t *testing.T, filter string) *Filter {
	t.Helper()
	f, err := Parse(document.MustParseJSON(filter))
	if err != nil {
		t.Fatalf("Parse(%s) failed: %v", filter, err)
	}
	return f
}

func TestQuerySimpleMatch(t *testing.T) {
	doc := document.MustParseJSON(`{"title": "The Dark Knight", "type": "movie"}`)

	if !parse(t, `{"title": "The Dark Knight"}`).Matches(doc) {
		t.Error("Expected document to match")
	}
	if parse(t, `{"title": "Inception"}`).Matches(doc) {
		t.Error("Expected document to not match")
	}
	if !parse(t, `{}`).Matches(doc) {
		t.Error("Expected empty filter to match")
	}
}

func TestQueryRangeOperators(t *testing.T) {
	doc := document.MustParseJSON(`{"type": "movie", "average_rating": 4.9, "total_ratings": 45000}`)

	tests := []struct {
		filter   string
		expected bool
	}{
		{`{"type": "movie", "average_rating": {"$gte": 4.8}}`, true},
		{`{"average_rating": {"$gte": 4.95}}`, false},
		{`{"average_rating": {"$gt": 4, "$lt": 5}}`, true},
		{`{"average_rating": {"$lte": 4.9}}`, true},
		{`{"total_ratings": {"$lt": 45000}}`, false},
		{`{"total_ratings": {"$gte": 45000.0}}`, true},
		{`{"type": {"$gt": 5}}`, false},
	}

	for _, tt := range tests {
		if got := parse(t, tt.filter).Matches(doc); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.filter, tt.expected, got)
		}
	}
}

func TestQueryTimestampStrings(t *testing.T) {
	recent := document.MustParseJSON(`{"date_added": "2024-01-15T10:00:00Z"}`)
	old := document.MustParseJSON(`{"date_added": "2023-11-30T10:00:00Z"}`)

	f := parse(t, `{"date_added": {"$gte": "2024-01-01T00:00:00Z"}}`)
	if !f.Matches(recent) {
		t.Error("Expected content added in 2024 to match")
	}
	if f.Matches(old) {
		t.Error("Expected content added in 2023 to not match")
	}
}

func TestQueryIn(t *testing.T) {
	f := parse(t, `{"country": {"$in": ["Mexico", "Argentina", "Colombia"]}}`)

	if !f.Matches(document.MustParseJSON(`{"country": "Argentina"}`)) {
		t.Error("Expected Argentina to match")
	}
	if f.Matches(document.MustParseJSON(`{"country": "Spain"}`)) {
		t.Error("Expected Spain to not match")
	}
}

func TestQueryMissingFieldNeverMatches(t *testing.T) {
	noCountry := document.MustParseJSON(`{"email": "ana@email.com", "name": "Ana"}`)

	filters := []string{
		`{"country": {"$in": ["Mexico", "Argentina", "Colombia"]}}`,
		`{"country": "Mexico"}`,
		`{"country": null}`,
		`{"country": {"$eq": null}}`,
		`{"country": {"$gte": ""}}`,
		`{"country": {"$lt": "zzz"}}`,
		`{"age": {"$lt": 1000}}`,
	}

	for _, filter := range filters {
		if parse(t, filter).Matches(noCountry) {
			t.Errorf("%s: expected missing field to never match", filter)
		}
	}
}

func TestQueryNullMatchesPresentNull(t *testing.T) {
	doc := document.MustParseJSON(`{"country": null}`)
	if !parse(t, `{"country": null}`).Matches(doc) {
		t.Error("Expected explicit null to match null")
	}
}

func TestQueryArrayElementMatch(t *testing.T) {
	doc := document.MustParseJSON(`{"title": "Stranger Things", "genres": ["Drama", "Fantasy", "Horror"]}`)

	if !parse(t, `{"genres": "Fantasy"}`).Matches(doc) {
		t.Error("Expected scalar filter to match an array element")
	}
	if parse(t, `{"genres": "Comedy"}`).Matches(doc) {
		t.Error("Expected absent element to not match")
	}
	if !parse(t, `{"genres": ["Drama", "Fantasy", "Horror"]}`).Matches(doc) {
		t.Error("Expected whole-array equality to match")
	}
	if !parse(t, `{"genres": {"$in": ["Comedy", "Horror"]}}`).Matches(doc) {
		t.Error("Expected $in to match any element")
	}
}

func TestQueryDottedPaths(t *testing.T) {
	doc := document.MustParseJSON(`{
		"specific_episode": {"season": 1, "episode_number": 1},
		"viewing_history": [{"title": "Dark", "watched_time": 50}, {"title": "Ozark", "watched_time": 180}]
	}`)

	if !parse(t, `{"specific_episode.season": 1}`).Matches(doc) {
		t.Error("Expected nested equality to match")
	}
	if !parse(t, `{"viewing_history.watched_time": {"$gt": 100}}`).Matches(doc) {
		t.Error("Expected range over array of sub-documents to match")
	}
	if parse(t, `{"viewing_history.watched_time": {"$gt": 200}}`).Matches(doc) {
		t.Error("Expected range over array of sub-documents to not match")
	}
}

func TestQueryNegationsAndExists(t *testing.T) {
	withComment := document.MustParseJSON(`{"interaction_type": "comment", "comment": "Amazing pilot episode!"}`)
	like := document.MustParseJSON(`{"interaction_type": "like"}`)

	if !parse(t, `{"comment": {"$exists": true}}`).Matches(withComment) {
		t.Error("Expected $exists true to match")
	}
	if !parse(t, `{"comment": {"$exists": false}}`).Matches(like) {
		t.Error("Expected $exists false to match missing field")
	}
	if !parse(t, `{"comment": {"$ne": "x"}}`).Matches(like) {
		t.Error("Expected $ne to match missing field")
	}
	if parse(t, `{"interaction_type": {"$nin": ["like", "comment"]}}`).Matches(like) {
		t.Error("Expected $nin to exclude listed value")
	}
}

func TestQueryLogicalOperators(t *testing.T) {
	doc := document.MustParseJSON(`{"type": "series", "average_rating": 4.6}`)

	if !parse(t, `{"$or": [{"type": "movie"}, {"average_rating": {"$gt": 4.5}}]}`).Matches(doc) {
		t.Error("Expected $or to match")
	}
	if parse(t, `{"$and": [{"type": "series"}, {"average_rating": {"$gt": 4.7}}]}`).Matches(doc) {
		t.Error("Expected $and to not match")
	}
}

func TestQueryInvalidExpressions(t *testing.T) {
	filters := []string{
		`{"rating": {"$regex": "x"}}`,
		`{"$where": "true"}`,
		`{"rating": {"$gt": [1, 2]}}`,
		`{"rating": {"$gte": true}}`,
		`{"country": {"$in": "Mexico"}}`,
		`{"$or": []}`,
		`{"$and": [1]}`,
		`{"rating": {"$gt": 1, "plain": 2}}`,
		`{"comment": {"$exists": "yes"}}`,
	}

	for _, filter := range filters {
		_, err := Parse(document.MustParseJSON(filter))
		if !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("%s: expected ErrInvalidExpression, got %v", filter, err)
		}
	}
}

func TestEqualityValues(t *testing.T) {
	f := parse(t, `{"type": "movie", "genres": {"$eq": "Fantasy"}, "average_rating": {"$gte": 4}, "tags": ["a"], "$and": [{"country": "Mexico"}]}`)
	eq := f.EqualityValues()

	if eq["type"] != "movie" || eq["genres"] != "Fantasy" || eq["country"] != "Mexico" {
		t.Errorf("Unexpected equality values: %v", eq)
	}
	if _, ok := eq["average_rating"]; ok {
		t.Error("Range terms are not equalities")
	}
	if _, ok := eq["tags"]; ok {
		t.Error("Array operands are not index-servable equalities")
	}
}

func TestSortDocumentsStable(t *testing.T) {
	docs := []*document.Document{
		document.MustParseJSON(`{"name": "a", "content_count": 2}`),
		document.MustParseJSON(`{"name": "b", "content_count": 3}`),
		document.MustParseJSON(`{"name": "c", "content_count": 2}`),
		document.MustParseJSON(`{"name": "d"}`),
		document.MustParseJSON(`{"name": "e", "content_count": 3}`),
	}

	fields, err := ParseSort(document.MustParseJSON(`{"content_count": -1}`))
	if err != nil {
		t.Fatalf("ParseSort failed: %v", err)
	}
	SortDocuments(docs, fields)

	expected := []string{"b", "e", "a", "c", "d"}
	for i, name := range expected {
		if got, _ := docs[i].Get("name"); got != name {
			t.Fatalf("Position %d: expected %s, got %v", i, name, got)
		}
	}
}

func TestParseSortInvalid(t *testing.T) {
	for _, spec := range []string{`{}`, `{"a": 2}`, `{"a": "asc"}`} {
		if _, err := ParseSort(document.MustParseJSON(spec)); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("%s: expected ErrInvalidExpression, got %v", spec, err)
		}
	}
}

func TestQueryNaN(t *testing.T) {
	nan := document.NewDocument()
	nan.Set("x", math.NaN())
	byNaN, err := Parse(nan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !byNaN.Matches(nan) {
		t.Error("Expected NaN to match NaN")
	}
	for _, d := range []string{`{"x": 0}`, `{"x": 4.5}`, `{"x": -100}`} {
		if byNaN.Matches(document.MustParseJSON(d)) {
			t.Errorf("Expected NaN not to match %s", d)
		}
	}
	if !parse(t, `{"x": {"$lt": -1000000}}`).Matches(nan) {
		t.Error("Expected NaN to sort below every number")
	}
}
