package catalog

// Collection names
const (
	UsersCollection        = "users"
	ContentCollection      = "multimedia_content"
	RatingsCollection      = "ratings"
	PlaylistsCollection    = "playlists"
	InteractionsCollection = "interactions"
)

// ContentType is the kind of a media content item
type ContentType string

const (
	ContentTypeMovie       ContentType = "movie"
	ContentTypeSeries      ContentType = "series"
	ContentTypeDocumentary ContentType = "documentary"
)

// InteractionType is the kind of a user interaction
type InteractionType string

const (
	InteractionLike    InteractionType = "like"
	InteractionComment InteractionType = "comment"
	InteractionShare   InteractionType = "share"
)

// ViewingHistoryEntry is one viewing of a title. Timestamps in the catalog
// are RFC 3339 strings, which order correctly as strings and compare
// against string filter operands.
type ViewingHistoryEntry struct {
	Title       string `bson:"title" json:"title" validate:"required"`
	ViewingDate string `bson:"viewing_date" json:"viewing_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	WatchedTime int64  `bson:"watched_time" json:"watched_time" validate:"gte=0"`
	Completed   bool   `bson:"completed" json:"completed"`
}

type User struct {
	ID             interface{}           `bson:"_id,omitempty" json:"id,omitempty"`
	Name           string                `bson:"name" json:"name" validate:"required,min=2,max=100"`
	Email          string                `bson:"email" json:"email" validate:"required,email"`
	Country        string                `bson:"country,omitempty" json:"country,omitempty"`
	ViewingHistory []ViewingHistoryEntry `bson:"viewing_history,omitempty" json:"viewing_history,omitempty" validate:"dive"`
}

type MediaContent struct {
	ID            interface{} `bson:"_id,omitempty" json:"id,omitempty"`
	Title         string      `bson:"title" json:"title" validate:"required"`
	Type          ContentType `bson:"type" json:"type" validate:"required,oneof=movie series documentary"`
	Genres        []string    `bson:"genres" json:"genres" validate:"unique,dive,required"`
	AverageRating float64     `bson:"average_rating" json:"average_rating" validate:"gte=0,lte=5"`
	TotalRatings  int64       `bson:"total_ratings" json:"total_ratings" validate:"gte=0"`
	DateAdded     string      `bson:"date_added,omitempty" json:"date_added,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// Rating is a user's rating of a content item. The association is logical
// only; nothing in the store links the two.
type Rating struct {
	ID           interface{} `bson:"_id,omitempty" json:"id,omitempty"`
	Rating       int64       `bson:"rating" json:"rating" validate:"min=1,max=5"`
	Comment      string      `bson:"comment,omitempty" json:"comment,omitempty" validate:"max=2000"`
	RatingDate   string      `bson:"rating_date" json:"rating_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	HelpfulVotes int64       `bson:"helpful_votes" json:"helpful_votes" validate:"gte=0"`
	Spoiler      bool        `bson:"spoiler" json:"spoiler"`
}

type PlaylistItem struct {
	Title     string `bson:"title" json:"title" validate:"required"`
	DateAdded string `bson:"date_added" json:"date_added" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Order     int64  `bson:"order" json:"order" validate:"gte=1"`
}

// Playlist keeps TotalContents equal to len(Contents); whoever changes
// Contents must update it in the same write.
type Playlist struct {
	ID            interface{}    `bson:"_id,omitempty" json:"id,omitempty"`
	Name          string         `bson:"name" json:"name" validate:"required,min=2,max=100"`
	CreationDate  string         `bson:"creation_date" json:"creation_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Description   string         `bson:"description,omitempty" json:"description,omitempty" validate:"max=500"`
	Public        bool           `bson:"public" json:"public"`
	Contents      []PlaylistItem `bson:"contents" json:"contents" validate:"dive"`
	TotalContents int64          `bson:"total_contents" json:"total_contents" validate:"gte=0"`
	Followers     int64          `bson:"followers" json:"followers" validate:"gte=0"`
}

type SpecificEpisode struct {
	Season        int64 `bson:"season" json:"season" validate:"gte=1"`
	EpisodeNumber int64 `bson:"episode_number" json:"episode_number" validate:"gte=1"`
}

type Interaction struct {
	ID              interface{}      `bson:"_id,omitempty" json:"id,omitempty"`
	InteractionType InteractionType  `bson:"interaction_type" json:"interaction_type" validate:"required,oneof=like comment share"`
	InteractionDate string           `bson:"interaction_date" json:"interaction_date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	SpecificEpisode *SpecificEpisode `bson:"specific_episode,omitempty" json:"specific_episode,omitempty"`
	Comment         string           `bson:"comment,omitempty" json:"comment,omitempty" validate:"required_if=InteractionType comment"`
	Active          bool             `bson:"active" json:"active"`
}
