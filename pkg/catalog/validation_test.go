package catalog

import (
	"errors"
	"testing"

	"github.com/mnohosten/streamhub/pkg/document"
)

func TestSamplesAreValid(t *testing.T) {
	for _, u := range SampleUsers() {
		if err := ValidateModel(&u); err != nil {
			t.Errorf("User %s: %v", u.Email, err)
		}
	}
	for _, c := range SampleContent() {
		if err := ValidateModel(c); err != nil {
			t.Errorf("Content %s: %v", c.Title, err)
		}
	}
	for _, p := range SamplePlaylists() {
		if err := ValidateModel(&p); err != nil {
			t.Errorf("Playlist %s: %v", p.Name, err)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name       string
		collection string
		doc        string
		field      string
		rule       string
	}{
		{
			name:       "rating above range",
			collection: RatingsCollection,
			doc:        `{"rating": 6, "rating_date": "2024-02-05T20:00:00Z", "helpful_votes": 0}`,
			field:      "rating",
			rule:       "max",
		},
		{
			name:       "rating below range",
			collection: RatingsCollection,
			doc:        `{"rating": 0, "rating_date": "2024-02-05T20:00:00Z"}`,
			field:      "rating",
			rule:       "min",
		},
		{
			name:       "rating date format",
			collection: RatingsCollection,
			doc:        `{"rating": 3, "rating_date": "5 Feb 2024"}`,
			field:      "rating_date",
			rule:       "datetime",
		},
		{
			name:       "playlist count mismatch",
			collection: PlaylistsCollection,
			doc: `{"name": "Sci-Fi Collection", "creation_date": "2024-02-02T19:00:00Z", "public": false,
				"contents": [{"title": "Stranger Things", "date_added": "2024-02-02T19:10:00Z", "order": 1}],
				"total_contents": 2, "followers": 2}`,
			field: "total_contents",
			rule:  "eq_len_contents",
		},
		{
			name:       "negative followers",
			collection: PlaylistsCollection,
			doc:        `{"name": "Empty", "creation_date": "2024-02-02T19:00:00Z", "contents": [], "total_contents": 0, "followers": -1}`,
			field:      "followers",
			rule:       "gte",
		},
		{
			name:       "playlist item without title",
			collection: PlaylistsCollection,
			doc: `{"name": "Broken", "creation_date": "2024-02-02T19:00:00Z",
				"contents": [{"date_added": "2024-02-02T19:10:00Z", "order": 1}], "total_contents": 1}`,
			field: "contents[0].title",
			rule:  "required",
		},
		{
			name:       "invalid email",
			collection: UsersCollection,
			doc:        `{"name": "Maria", "email": "not-an-email"}`,
			field:      "email",
			rule:       "email",
		},
		{
			name:       "unknown content type",
			collection: ContentCollection,
			doc:        `{"title": "Serial", "type": "podcast", "genres": ["Crime"]}`,
			field:      "type",
			rule:       "oneof",
		},
		{
			name:       "comment interaction without comment",
			collection: InteractionsCollection,
			doc:        `{"interaction_type": "comment", "interaction_date": "2024-02-07T20:30:00Z", "active": true}`,
			field:      "comment",
			rule:       "required_if",
		},
		{
			name:       "wrong field type",
			collection: RatingsCollection,
			doc:        `{"rating": "five", "rating_date": "2024-02-05T20:00:00Z"}`,
			field:      "$",
			rule:       "type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.collection, document.MustParseJSON(tc.doc))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected *ValidationError, got %T", err)
			}
			for _, fe := range ve.Fields {
				if fe.Field == tc.field && fe.Rule == tc.rule {
					return
				}
			}
			t.Errorf("Expected %s to fail %s, got %v", tc.field, tc.rule, ve.Fields)
		})
	}
}

func TestValidateAcceptsStoredDocuments(t *testing.T) {
	doc := document.MustParseJSON(`{
		"_id": {"$oid": "65c0f0a1b2c3d4e5f6a7b8c9"},
		"interaction_type": "comment",
		"interaction_date": "2024-02-07T20:30:00Z",
		"specific_episode": {"season": 1, "episode_number": 1},
		"comment": "Amazing pilot episode!",
		"active": true,
		"extra_field": "kept by the store, ignored here"
	}`)
	if err := Validate(InteractionsCollection, doc); err != nil {
		t.Errorf("Expected valid interaction, got %v", err)
	}

	if err := Validate("audit_log", document.MustParseJSON(`{"anything": 1}`)); err != nil {
		t.Errorf("Expected collections without a model to pass, got %v", err)
	}
}
