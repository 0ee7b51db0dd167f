package document

import (
	"math"
	"strings"
	"testing"
)

func TestNewDocument(t *testing.T) {
	doc := NewDocument()
	if doc.Len() != 0 {
		t.Errorf("Expected empty document, got length %d", doc.Len())
	}
}

func TestDocumentSetGet(t *testing.T) {
	doc := NewDocument()
	doc.Set("name", "Maria Garcia")
	doc.Set("age", 30)
	doc.Set("active", true)

	if val, ok := doc.Get("name"); !ok || val.(string) != "Maria Garcia" {
		t.Errorf("Expected name 'Maria Garcia', got %v", val)
	}
	if val, _ := doc.Get("age"); val.(int64) != 30 {
		t.Errorf("Expected age 30, got %v", val)
	}
	if _, ok := doc.Get("country"); ok {
		t.Error("Expected country to be absent")
	}
}

func TestDocumentNullIsNotAbsent(t *testing.T) {
	doc := NewDocument()
	doc.Set("average_rating", nil)

	val, ok := doc.Get("average_rating")
	if !ok {
		t.Fatal("Expected null field to be present")
	}
	if val != nil {
		t.Errorf("Expected nil value, got %v", val)
	}
}

func TestDocumentKeyOrder(t *testing.T) {
	doc := NewDocument()
	doc.Set("title", "The Dark Knight")
	doc.Set("type", "movie")
	doc.Set("average_rating", 4.9)
	doc.Set("type", "film")

	keys := doc.Keys()
	expected := []string{"title", "type", "average_rating"}
	for i, k := range expected {
		if keys[i] != k {
			t.Fatalf("Expected keys %v, got %v", expected, keys)
		}
	}

	doc.Delete("type")
	if doc.Has("type") || doc.Len() != 2 {
		t.Error("Expected type to be deleted")
	}
}

func TestDocumentClone(t *testing.T) {
	doc := MustParseJSON(`{"name": "Action Movie Night", "contents": [{"title": "The Dark Knight"}]}`)
	clone := doc.Clone()

	contents, _ := clone.Get("contents")
	contents.([]interface{})[0].(*Document).Set("title", "Inception")

	original, _ := doc.GetPath("contents.0.title")
	if original != "The Dark Knight" {
		t.Errorf("Clone shares nested state: original title is %v", original)
	}
}

func TestGetPath(t *testing.T) {
	doc := MustParseJSON(`{
		"name": "Maria",
		"specific_episode": {"season": 1, "episode_number": 3},
		"viewing_history": [
			{"title": "Stranger Things", "watched_time": 120},
			{"title": "The Dark Knight", "watched_time": 152},
			{"title": "Dark"}
		]
	}`)

	season, ok := doc.GetPath("specific_episode.season")
	if !ok || season.(int64) != 1 {
		t.Errorf("Expected season 1, got %v", season)
	}

	times, ok := doc.GetPath("viewing_history.watched_time")
	if !ok {
		t.Fatal("Expected watched_time values")
	}
	arr := times.([]interface{})
	if len(arr) != 2 || arr[0].(int64) != 120 || arr[1].(int64) != 152 {
		t.Errorf("Expected [120 152], got %v", arr)
	}

	title, ok := doc.GetPath("viewing_history.1.title")
	if !ok || title != "The Dark Knight" {
		t.Errorf("Expected indexed lookup, got %v", title)
	}

	if _, ok := doc.GetPath("specific_episode.missing"); ok {
		t.Error("Expected missing nested field to be absent")
	}
	if _, ok := doc.GetPath("name.first"); ok {
		t.Error("Expected path through a scalar to be absent")
	}
}

func TestSetPath(t *testing.T) {
	doc := NewDocument()
	if err := doc.SetPath("specific_episode.season", 2); err != nil {
		t.Fatalf("SetPath failed: %v", err)
	}
	season, _ := doc.GetPath("specific_episode.season")
	if season.(int64) != 2 {
		t.Errorf("Expected season 2, got %v", season)
	}

	doc.Set("comment", "Amazing")
	if err := doc.SetPath("comment.text", "x"); err == nil {
		t.Error("Expected error when traversing a string")
	}

	doc.DeletePath("specific_episode.season")
	if _, ok := doc.GetPath("specific_episode.season"); ok {
		t.Error("Expected nested field to be deleted")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b     interface{}
		expected int
	}{
		{int64(4), 4.0, 0},
		{int64(4), 4.5, -1},
		{5.0, int64(4), 1},
		{"2024-02-05T20:00:00Z", "2024-02-03T22:30:00Z", 1},
		{nil, int64(0), -1},
		{int64(100), "1", -1},
		{true, false, 1},
		{int64(9007199254740993), float64(9007199254740992), 1},
		{math.Copysign(0, -1), int64(0), 0},
		{math.NaN(), math.NaN(), 0},
		{math.NaN(), math.Inf(-1), -1},
		{int64(-5), math.NaN(), 1},
	}

	for _, tt := range tests {
		if got := Compare(Normalize(tt.a), Normalize(tt.b)); got != tt.expected {
			t.Errorf("Compare(%v, %v) = %d, expected %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestCanonicalKey(t *testing.T) {
	if CanonicalKey(4, "movie") != CanonicalKey(4.0, "movie") {
		t.Error("Expected numerically equal keys to collide")
	}
	if CanonicalKey("4") == CanonicalKey(4) {
		t.Error("Expected string and number keys to differ")
	}
	if CanonicalKey("a", "b|c") == CanonicalKey("a|b", "c") {
		t.Error("Expected tuple boundaries to be preserved")
	}
}

func TestCanonicalKeyAgreesWithCompare(t *testing.T) {
	values := []interface{}{
		int64(9007199254740992), int64(9007199254740993), float64(9007199254740992),
		0.0, math.Copysign(0, -1), int64(0), 2.5, int64(-3), -3.0,
		math.NaN(), math.Inf(1), math.Inf(-1), 1e300, int64(math.MaxInt64), float64(1 << 63),
	}
	for _, a := range values {
		for _, b := range values {
			sameKey := CanonicalKey(a) == CanonicalKey(b)
			equal := Compare(Normalize(a), Normalize(b)) == 0
			if sameKey != equal {
				t.Errorf("%v vs %v: same key %v but equal %v", a, b, sameKey, equal)
			}
		}
	}
}

func TestParseJSONKeepsOrder(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"type": 1, "genres": 1, "average_rating": -1}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if got := strings.Join(doc.Keys(), ","); got != "type,genres,average_rating" {
		t.Errorf("Expected key order preserved, got %s", got)
	}
	v, _ := doc.Get("average_rating")
	if v.(int64) != -1 {
		t.Errorf("Expected int64 -1, got %T %v", v, v)
	}
}

func TestParseJSONArray(t *testing.T) {
	stages, err := ParseJSONArray([]byte(`[{"$unwind": "$genres"}, {"$limit": 5}]`))
	if err != nil {
		t.Fatalf("ParseJSONArray failed: %v", err)
	}
	if len(stages) != 2 || !stages[1].Has("$limit") {
		t.Errorf("Unexpected stages: %v", stages)
	}

	if _, err := ParseJSONArray([]byte(`[1, 2]`)); err == nil {
		t.Error("Expected error for non-document elements")
	}
}

func TestBSONRoundTrip(t *testing.T) {
	id := NewObjectID()
	doc := NewDocument()
	doc.Set("_id", id)
	doc.Set("genres", []string{"Action", "Drama"})
	doc.Set("average_rating", 4.8)

	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !decoded.Equal(doc) {
		t.Errorf("Expected %v, got %v", doc, decoded)
	}
}

func TestMarshalJSON(t *testing.T) {
	doc := MustParseJSON(`{"b": 1, "a": "x"}`)
	data, err := doc.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(data) != `{"b":1,"a":"x"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}
}

func TestObjectIDFromHex(t *testing.T) {
	id := NewObjectID()
	parsed, err := ObjectIDFromHex(id.Hex())
	if err != nil {
		t.Fatalf("ObjectIDFromHex failed: %v", err)
	}
	if parsed != id {
		t.Error("Expected parsed ObjectID to equal the original")
	}
	if _, err := ObjectIDFromHex("xyz"); err == nil {
		t.Error("Expected error for invalid hex")
	}
}
