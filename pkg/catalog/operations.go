package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/mnohosten/streamhub/pkg/database"
	"github.com/mnohosten/streamhub/pkg/document"
)

// Kind is what an operation does
type Kind string

const (
	KindFind      Kind = "find"
	KindUpdate    Kind = "update"
	KindDelete    Kind = "delete"
	KindAggregate Kind = "aggregate"
)

// Operation is a named query, write or report over the catalog. Filters,
// updates, sorts and pipelines are Extended JSON.
type Operation struct {
	Name        string
	Description string
	Collection  string
	Kind        Kind
	Filter      string
	Sort        string
	Update      string
	Pipeline    string
}

// Result is the outcome of running an operation
type Result struct {
	Operation string
	Documents []*document.Document
	// Affected is the number of documents updated or deleted
	Affected int
}

var operations = []Operation{
	{
		Name:        "high_rated_movies",
		Description: "Movies rated 4.8 or higher",
		Collection:  ContentCollection,
		Kind:        KindFind,
		Filter:      `{"type": "movie", "average_rating": {"$gte": 4.8}}`,
	},
	{
		Name:        "latin_american_users",
		Description: "Users from Mexico, Argentina or Colombia",
		Collection:  UsersCollection,
		Kind:        KindFind,
		Filter:      `{"country": {"$in": ["Mexico", "Argentina", "Colombia"]}}`,
	},
	{
		Name:        "fantasy_content",
		Description: "Content in the Fantasy genre",
		Collection:  ContentCollection,
		Kind:        KindFind,
		Filter:      `{"genres": "Fantasy"}`,
	},
	{
		Name:        "recent_content",
		Description: "Content added in 2024",
		Collection:  ContentCollection,
		Kind:        KindFind,
		Filter:      `{"date_added": {"$gte": "2024-01-01T00:00:00Z"}}`,
	},
	{
		Name:        "latest_ratings",
		Description: "Ratings, most recent first",
		Collection:  RatingsCollection,
		Kind:        KindFind,
		Sort:        `{"rating_date": -1}`,
	},
	{
		Name:        "add_viewing_history",
		Description: "Append a Stranger Things viewing to Maria's history",
		Collection:  UsersCollection,
		Kind:        KindUpdate,
		Filter:      `{"email": "maria.garcia@email.com"}`,
		Update: `{"$push": {"viewing_history": {
			"title": "Stranger Things",
			"viewing_date": "2024-02-08T21:30:00Z",
			"watched_time": 180,
			"completed": false
		}}}`,
	},
	{
		Name:        "update_dark_knight_rating",
		Description: "Refresh The Dark Knight's rating totals",
		Collection:  ContentCollection,
		Kind:        KindUpdate,
		Filter:      `{"title": "The Dark Knight"}`,
		Update:      `{"$set": {"average_rating": 4.92, "total_ratings": 46500}}`,
	},
	{
		Name:        "remove_old_interactions",
		Description: "Delete interactions from before 2024",
		Collection:  InteractionsCollection,
		Kind:        KindDelete,
		Filter:      `{"interaction_date": {"$lt": "2024-01-01T00:00:00Z"}}`,
	},
	{
		Name:        "content_performance",
		Description: "Count, average rating and total ratings per content type",
		Collection:  ContentCollection,
		Kind:        KindAggregate,
		Pipeline: `[
			{"$group": {
				"_id": "$type",
				"count": {"$sum": 1},
				"avg_rating": {"$avg": "$average_rating"},
				"total_ratings": {"$sum": "$total_ratings"}
			}},
			{"$sort": {"avg_rating": -1}}
		]`,
	},
	{
		Name:        "genre_popularity",
		Description: "The five genres with the most titles",
		Collection:  ContentCollection,
		Kind:        KindAggregate,
		Pipeline: `[
			{"$unwind": "$genres"},
			{"$group": {
				"_id": "$genres",
				"content_count": {"$sum": 1},
				"avg_rating": {"$avg": "$average_rating"}
			}},
			{"$sort": {"content_count": -1}},
			{"$limit": 5}
		]`,
	},
	{
		Name:        "engagement_by_country",
		Description: "Users, average titles watched and total watch time per country",
		Collection:  UsersCollection,
		Kind:        KindAggregate,
		Pipeline: `[
			{"$addFields": {
				"viewing_count": {"$size": {"$ifNull": ["$viewing_history", []]}},
				"total_watch_time": {"$sum": "$viewing_history.watched_time"}
			}},
			{"$group": {
				"_id": "$country",
				"user_count": {"$sum": 1},
				"avg_viewing_count": {"$avg": "$viewing_count"},
				"total_watch_time": {"$sum": "$total_watch_time"}
			}},
			{"$sort": {"total_watch_time": -1}}
		]`,
	},
	{
		Name:        "most_active_users",
		Description: "Users who watched something, by minutes watched",
		Collection:  UsersCollection,
		Kind:        KindAggregate,
		Pipeline: `[
			{"$addFields": {
				"total_content_watched": {"$size": {"$ifNull": ["$viewing_history", []]}},
				"total_minutes_watched": {"$sum": "$viewing_history.watched_time"}
			}},
			{"$match": {"total_content_watched": {"$gt": 0}}},
			{"$sort": {"total_minutes_watched": -1}},
			{"$project": {
				"name": 1,
				"country": 1,
				"total_content_watched": 1,
				"total_minutes_watched": 1,
				"avg_minutes_per_content": {"$divide": ["$total_minutes_watched", "$total_content_watched"]}
			}}
		]`,
	},
}

// Operations returns every named operation
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

// Reports returns the names of the aggregate operations, sorted
func Reports() []string {
	var names []string
	for _, op := range operations {
		if op.Kind == KindAggregate {
			names = append(names, op.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Lookup finds an operation by name
func Lookup(name string) (Operation, bool) {
	for _, op := range operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// Run runs the named operation against db
func Run(ctx context.Context, db *database.Database, name string) (*Result, error) {
	op, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown operation: %s", name)
	}
	return op.Run(ctx, db)
}

// Run executes the operation against db
func (op Operation) Run(ctx context.Context, db *database.Database) (*Result, error) {
	coll := db.Collection(op.Collection)
	result := &Result{Operation: op.Name}

	filter, err := parseOptional(op.Filter)
	if err != nil {
		return nil, err
	}

	switch op.Kind {
	case KindFind:
		sortSpec, err := parseOptional(op.Sort)
		if err != nil {
			return nil, err
		}
		cursor, err := coll.FindWithOptions(ctx, filter, &database.QueryOptions{Sort: sortSpec})
		if err != nil {
			return nil, err
		}
		result.Documents, err = cursor.All(ctx)
		if err != nil {
			return nil, err
		}

	case KindUpdate:
		update, err := document.ParseJSON([]byte(op.Update))
		if err != nil {
			return nil, err
		}
		result.Affected, err = coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, err
		}

	case KindDelete:
		result.Affected, err = coll.DeleteMany(ctx, filter)
		if err != nil {
			return nil, err
		}

	case KindAggregate:
		stages, err := document.ParseJSONArray([]byte(op.Pipeline))
		if err != nil {
			return nil, err
		}
		result.Documents, err = coll.Aggregate(ctx, stages)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
	return result, nil
}

func parseOptional(s string) (*document.Document, error) {
	if s == "" {
		return nil, nil
	}
	return document.ParseJSON([]byte(s))
}
