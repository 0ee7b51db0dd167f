package graphql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/mnohosten/streamhub/pkg/changestream"
	"github.com/mnohosten/streamhub/pkg/database"
)

// maxRequestBytes bounds a POSTed GraphQL request
const maxRequestBytes = 1 << 20

// Request is a GraphQL request as sent over HTTP
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// Handler serves GraphQL over HTTP. POST accepts any operation; GET
// accepts queries only, read from the query string.
type Handler struct {
	schema graphql.Schema
}

// NewHandler builds the schema over db and hub
func NewHandler(db *database.Database, hub *changestream.Hub) (*Handler, error) {
	schema, err := Schema(db, hub)
	if err != nil {
		return nil, err
	}
	return &Handler{schema: schema}, nil
}

// Execute runs req against the schema
func (h *Handler) Execute(ctx context.Context, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        ctx,
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		req Request
		err error
	)
	switch r.Method {
	case http.MethodPost:
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req)
	case http.MethodGet:
		req, err = requestFromURL(r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeErrors(w, http.StatusMethodNotAllowed, "GraphQL accepts GET and POST")
		return
	}
	if err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Query == "" {
		writeErrors(w, http.StatusBadRequest, "missing query")
		return
	}
	if r.Method == http.MethodGet && operationType(req) == ast.OperationTypeMutation {
		w.Header().Set("Allow", "POST")
		writeErrors(w, http.StatusMethodNotAllowed, "mutations require POST")
		return
	}

	// Execution errors are part of a 200 response
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Execute(r.Context(), req))
}

func requestFromURL(r *http.Request) (Request, error) {
	q := r.URL.Query()
	req := Request{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if vars := q.Get("variables"); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			return req, errors.New("variables must be a JSON object")
		}
	}
	return req, nil
}

// operationType returns the type of the operation req would run. Parse
// errors return "" and are reported by execution.
func operationType(req Request) string {
	doc, err := parser.Parse(parser.ParseParams{Source: req.Query})
	if err != nil {
		return ""
	}
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if req.OperationName == "" || (op.Name != nil && op.Name.Value == req.OperationName) {
			return op.Operation
		}
	}
	return ""
}

func writeErrors(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]string{{"message": message}},
	})
}

// GraphiQLHandler serves the GraphiQL playground
func GraphiQLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(graphiqlPage))
	}
}

const graphiqlPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>StreamHub GraphiQL</title>
<style>body { margin: 0; } #graphiql { height: 100vh; }</style>
<script crossorigin src="https://unpkg.com/react@17/umd/react.production.min.js"></script>
<script crossorigin src="https://unpkg.com/react-dom@17/umd/react-dom.production.min.js"></script>
<link rel="stylesheet" href="https://unpkg.com/graphiql@1.8.7/graphiql.min.css">
</head>
<body>
<div id="graphiql">Loading...</div>
<script src="https://unpkg.com/graphiql@1.8.7/graphiql.min.js"></script>
<script>
ReactDOM.render(
  React.createElement(GraphiQL, {
    fetcher: GraphiQL.createFetcher({ url: '/graphql' }),
    defaultQuery: '{\n  listCollections\n  catalogOperations { name kind collection }\n}\n',
  }),
  document.getElementById('graphiql'),
);
</script>
</body>
</html>
`
