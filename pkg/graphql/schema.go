package graphql

import (
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
)

func collectionArg() *graphql.ArgumentConfig {
	return &graphql.ArgumentConfig{
		Type:        graphql.NewNonNull(graphql.String),
		Description: "Collection name",
	}
}

func jsonArg(description string, required bool) *graphql.ArgumentConfig {
	var t graphql.Input = JSONScalar
	if required {
		t = graphql.NewNonNull(JSONScalar)
	}
	return &graphql.ArgumentConfig{Type: t, Description: description}
}

// Schema creates and returns the GraphQL schema for StreamHub. hub may be
// nil, in which case the watchCollection subscription reports an error.
func Schema(db *database.Database, hub *changestream.Hub) (graphql.Schema, error) {
	// Define the Document type
	documentType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Document",
		Description: "A stored document",
		Fields: graphql.Fields{
			"_id": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Document identifier; ObjectIDs are rendered as hex",
			},
			"data": &graphql.Field{
				Type:        graphql.NewNonNull(JSONScalar),
				Description: "The whole document as Extended JSON",
			},
		},
	})

	insertResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "InsertResult",
		Description: "Result of an insert operation",
		Fields: graphql.Fields{
			"insertedId": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "ID of the inserted document",
			},
		},
	})

	insertManyResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "InsertManyResult",
		Description: "Result of an insertMany operation",
		Fields: graphql.Fields{
			"insertedIds": &graphql.Field{
				Type:        graphql.NewList(graphql.NewNonNull(graphql.String)),
				Description: "IDs of the inserted documents",
			},
			"insertedCount": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Number of documents inserted",
			},
		},
	})

	updateResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "UpdateResult",
		Description: "Result of an update operation",
		Fields: graphql.Fields{
			"modifiedCount": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Number of documents modified",
			},
		},
	})

	deleteResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "DeleteResult",
		Description: "Result of a delete operation",
		Fields: graphql.Fields{
			"deletedCount": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Number of documents deleted",
			},
		},
	})

	indexInfoType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "IndexInfo",
		Description: "Information about an index",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"keys": &graphql.Field{
				Type:        graphql.NewNonNull(JSONScalar),
				Description: "Key specification in key order",
			},
			"fieldPaths": &graphql.Field{
				Type: graphql.NewList(graphql.NewNonNull(graphql.String)),
			},
			"unique": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
			"compound": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
			},
		},
	})

	collectionStatsType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "CollectionStats",
		Description: "Statistics about a collection",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"documentCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
			},
			"indexCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
			},
		},
	})

	aggregationResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "AggregationResult",
		Description: "Result of an aggregation pipeline",
		Fields: graphql.Fields{
			"results": &graphql.Field{
				Type: graphql.NewList(JSONScalar),
			},
		},
	})

	operationType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "CatalogOperation",
		Description: "A named query, write or report over the media catalog",
		Fields: graphql.Fields{
			"name":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"description": &graphql.Field{Type: graphql.String},
			"collection":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	operationResultType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "OperationResult",
		Description: "Outcome of a catalog operation",
		Fields: graphql.Fields{
			"operation": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"kind":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"documents": &graphql.Field{
				Type:        graphql.NewList(JSONScalar),
				Description: "Documents returned by find and aggregate operations",
			},
			"affected": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Documents updated or deleted",
			},
		},
	})

	seedResultType := graphql.NewObject(graphql.ObjectConfig{
		Name: "SeedResult",
		Fields: graphql.Fields{
			"insertedCount": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"indexCount":    &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	changeEventType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "ChangeEvent",
		Description: "A committed write delivered by a change stream",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Resume token of the event",
			},
			"operationType": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"collection":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"documentKey":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"timestamp":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"fullDocument":  &graphql.Field{Type: JSONScalar},
			"updatedFields": &graphql.Field{Type: JSONScalar},
			"removedFields": &graphql.Field{Type: graphql.NewList(graphql.String)},
		},
	})

	resolver := NewResolver(db, hub)

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Query",
		Description: "Root query type for StreamHub",
		Fields: graphql.Fields{
			"findOne": &graphql.Field{
				Type:        documentType,
				Description: "Find a single document by filter",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", false),
				},
				Resolve: resolver.FindOne,
			},
			"find": &graphql.Field{
				Type:        graphql.NewList(documentType),
				Description: "Find documents matching a filter",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", false),
					"sort":       jsonArg("Sort specification", false),
					"projection": jsonArg("Projection specification", false),
					"limit": &graphql.ArgumentConfig{
						Type:        graphql.Int,
						Description: "Maximum number of documents to return",
					},
					"skip": &graphql.ArgumentConfig{
						Type:        graphql.Int,
						Description: "Number of documents to skip",
					},
				},
				Resolve: resolver.Find,
			},
			"count": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.Int),
				Description: "Count documents matching a filter",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", false),
				},
				Resolve: resolver.Count,
			},
			"listCollections": &graphql.Field{
				Type:        graphql.NewList(graphql.NewNonNull(graphql.String)),
				Description: "List all collections in the database",
				Resolve:     resolver.ListCollections,
			},
			"collectionStats": &graphql.Field{
				Type: collectionStatsType,
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
				},
				Resolve: resolver.CollectionStats,
			},
			"listIndexes": &graphql.Field{
				Type: graphql.NewList(indexInfoType),
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
				},
				Resolve: resolver.ListIndexes,
			},
			"explain": &graphql.Field{
				Type:        JSONScalar,
				Description: "Describe the plan find would use for a filter",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", false),
				},
				Resolve: resolver.Explain,
			},
			"aggregate": &graphql.Field{
				Type:        aggregationResultType,
				Description: "Run an aggregation pipeline",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"pipeline":   jsonArg("Pipeline stages as a JSON array", true),
				},
				Resolve: resolver.Aggregate,
			},
			"catalogOperations": &graphql.Field{
				Type:        graphql.NewList(operationType),
				Description: "List the named catalog operations",
				Resolve:     resolver.CatalogOperations,
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Mutation",
		Description: "Root mutation type for StreamHub",
		Fields: graphql.Fields{
			"createCollection": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.CreateCollection,
			},
			"dropCollection": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.DropCollection,
			},
			"insertOne": &graphql.Field{
				Type:        insertResultType,
				Description: "Insert a document, creating the collection if needed",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"document":   jsonArg("Document to insert", true),
				},
				Resolve: resolver.InsertOne,
			},
			"insertMany": &graphql.Field{
				Type:        insertManyResultType,
				Description: "Insert documents in order, stopping at the first failure",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"documents":  jsonArg("Documents to insert as a JSON array", true),
				},
				Resolve: resolver.InsertMany,
			},
			"updateOne": &graphql.Field{
				Type: updateResultType,
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", true),
					"update":     jsonArg("Update operators", true),
				},
				Resolve: resolver.UpdateOne,
			},
			"updateMany": &graphql.Field{
				Type: updateResultType,
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", true),
					"update":     jsonArg("Update operators", true),
				},
				Resolve: resolver.UpdateMany,
			},
			"deleteOne": &graphql.Field{
				Type: deleteResultType,
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", true),
				},
				Resolve: resolver.DeleteOne,
			},
			"deleteMany": &graphql.Field{
				Type: deleteResultType,
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"filter":     jsonArg("Query filter", true),
				},
				Resolve: resolver.DeleteMany,
			},
			"createIndex": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Create an index and return its name",
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"keys":       jsonArg("Key specification, e.g. {type: 1, genres: 1}", true),
					"unique": &graphql.ArgumentConfig{
						Type:         graphql.Boolean,
						DefaultValue: false,
					},
					"name": &graphql.ArgumentConfig{
						Type:        graphql.String,
						Description: "Index name (optional)",
					},
				},
				Resolve: resolver.CreateIndex,
			},
			"dropIndex": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"collection": collectionArg(),
					"name":       &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.DropIndex,
			},
			"seedCatalog": &graphql.Field{
				Type:        seedResultType,
				Description: "Create the catalog indexes and load the sample data",
				Resolve:     resolver.SeedCatalog,
			},
			"runOperation": &graphql.Field{
				Type:        operationResultType,
				Description: "Run a named catalog operation",
				Args: graphql.FieldConfigArgument{
					"name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: resolver.RunOperation,
			},
		},
	})

	subscriptionType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Subscription",
		Description: "Root subscription type for StreamHub",
		Fields: graphql.Fields{
			"watchCollection": &graphql.Field{
				Type:        changeEventType,
				Description: "Watch committed writes; omit collection to watch all",
				Args: graphql.FieldConfigArgument{
					"collection": &graphql.ArgumentConfig{Type: graphql.String},
					"operationTypes": &graphql.ArgumentConfig{
						Type:        graphql.NewList(graphql.String),
						Description: "insert, update or delete",
					},
					"filter": jsonArg("Filter over the event document", false),
					"fullDocument": &graphql.ArgumentConfig{
						Type:        graphql.String,
						Description: "default or updateLookup",
					},
					"resumeAfter": &graphql.ArgumentConfig{
						Type:        graphql.String,
						Description: "Resume token to replay from",
					},
				},
				Subscribe: resolver.WatchCollection,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:        queryType,
		Mutation:     mutationType,
		Subscription: subscriptionType,
	})
	if err != nil {
		return graphql.Schema{}, fmt.Errorf("failed to create GraphQL schema: %w", err)
	}
	return schema, nil
}
