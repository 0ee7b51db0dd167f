package update

import (
	"errors"
	"testing"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

func apply(t *testing.T, doc, spec string) *document.Document {
	t.Helper()
	u, err := Parse(document.MustParseJSON(spec))
	if err != nil {
		t.Fatalf("Parse(%s) failed: %v", spec, err)
	}
	out, err := u.Apply(document.MustParseJSON(doc))
	if err != nil {
		t.Fatalf("Apply(%s) failed: %v", spec, err)
	}
	return out
}

func TestSetCreatesAndOverwrites(t *testing.T) {
	out := apply(t, `{"name": "Action Movie Night", "total_contents": 2}`,
		`{"$set": {"total_contents": 3, "specific_episode.season": 1}}`)

	if v, _ := out.Get("total_contents"); v.(int64) != 3 {
		t.Errorf("Expected total_contents 3, got %v", v)
	}
	if v, ok := out.GetPath("specific_episode.season"); !ok || v.(int64) != 1 {
		t.Errorf("Expected nested document to be created, got %v", v)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	in := document.MustParseJSON(`{"contents": [1]}`)
	u := MustParse(document.MustParseJSON(`{"$push": {"contents": 2}}`))

	out, err := u.Apply(in)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if v, _ := in.Get("contents"); len(v.([]interface{})) != 1 {
		t.Error("Expected input to be unchanged")
	}
	if v, _ := out.Get("contents"); len(v.([]interface{})) != 2 {
		t.Error("Expected output to have two contents")
	}
}

func TestPush(t *testing.T) {
	out := apply(t, `{"name": "Weekend Binge"}`,
		`{"$push": {"contents": {"content_id": 1, "title": "The Dark Knight", "type": "movie"}}}`)
	contents, _ := out.Get("contents")
	if arr := contents.([]interface{}); len(arr) != 1 {
		t.Fatalf("Expected push to create a one-element array, got %v", arr)
	}
	title, _ := out.GetPath("contents.0.title")
	if title != "The Dark Knight" {
		t.Errorf("Unexpected pushed element %v", title)
	}

	out = apply(t, `{"genres": ["Drama"]}`, `{"$push": {"genres": {"$each": ["Fantasy", "Horror"]}}}`)
	genres, _ := out.Get("genres")
	if arr := genres.([]interface{}); len(arr) != 3 || arr[2] != "Horror" {
		t.Errorf("Expected $each to append in order, got %v", arr)
	}
}

func TestIncAndMul(t *testing.T) {
	out := apply(t, `{"total_ratings": 10, "average_rating": 4.5}`,
		`{"$inc": {"total_ratings": 1, "views": 5}, "$mul": {"average_rating": 2}}`)

	if v, _ := out.Get("total_ratings"); v != int64(11) {
		t.Errorf("Expected int64 11, got %T %v", v, v)
	}
	if v, _ := out.Get("views"); v != int64(5) {
		t.Errorf("Expected missing field to be set to 5, got %v", v)
	}
	if v, _ := out.Get("average_rating"); v != 9.0 {
		t.Errorf("Expected 9.0, got %v", v)
	}
}

func TestUnsetAddToSetPull(t *testing.T) {
	out := apply(t, `{"comment": "x", "genres": ["Drama", "Fantasy"]}`,
		`{"$unset": {"comment": ""}, "$addToSet": {"genres": {"$each": ["Drama", "Horror"]}}}`)
	if out.Has("comment") {
		t.Error("Expected comment to be removed")
	}
	genres, _ := out.Get("genres")
	if arr := genres.([]interface{}); len(arr) != 3 {
		t.Errorf("Expected [Drama Fantasy Horror], got %v", arr)
	}

	out = apply(t, `{"genres": ["Drama", "Fantasy", "Drama"]}`, `{"$pull": {"genres": "Drama"}}`)
	genres, _ = out.Get("genres")
	if arr := genres.([]interface{}); len(arr) != 1 || arr[0] != "Fantasy" {
		t.Errorf("Expected [Fantasy], got %v", arr)
	}
}

func TestInvalidUpdates(t *testing.T) {
	specs := []string{
		`{}`,
		`{"name": "replacement"}`,
		`{"$rename": {"a": "b"}}`,
		`{"$set": {"_id": 1}}`,
		`{"$set": {"_id.x": 1}}`,
		`{"$set": 1}`,
		`{"$inc": {"views": "one"}}`,
		`{"$push": {"genres": {"$each": "Drama"}}}`,
	}
	for _, spec := range specs {
		if _, err := Parse(document.MustParseJSON(spec)); !errors.Is(err, query.ErrInvalidExpression) {
			t.Errorf("%s: expected ErrInvalidExpression, got %v", spec, err)
		}
	}
}

func TestApplyTypeErrors(t *testing.T) {
	cases := []struct {
		doc, spec string
	}{
		{`{"genres": "Drama"}`, `{"$push": {"genres": "Fantasy"}}`},
		{`{"views": "many"}`, `{"$inc": {"views": 1}}`},
		{`{"comment": "x"}`, `{"$set": {"comment.text": "y"}}`},
	}
	for _, c := range cases {
		u := MustParse(document.MustParseJSON(c.spec))
		if _, err := u.Apply(document.MustParseJSON(c.doc)); !errors.Is(err, query.ErrInvalidExpression) {
			t.Errorf("%s on %s: expected ErrInvalidExpression, got %v", c.spec, c.doc, err)
		}
	}
}
