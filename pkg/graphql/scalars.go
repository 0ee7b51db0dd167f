package graphql

import (
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
	"github.com/mnohosten/streamhub/pkg/document"
)

// JSONScalar carries documents, filters and pipelines. Inline object
// literals keep their key order, which matters for sort specifications and
// compound index keys. Variables arrive through encoding/json and are
// ordered by key; pass a JSON string to keep a specific order.
var JSONScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "The `JSON` scalar type represents Extended JSON values",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case document.ObjectID:
			return v.Hex()
		case []*document.Document:
			out := make([]interface{}, len(v))
			for i, doc := range v {
				out[i] = doc
			}
			return out
		}
		return value
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case nil:
			return nil
		case string:
			return parseJSONString(v)
		default:
			return document.Normalize(v)
		}
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if s, ok := valueAST.(*ast.StringValue); ok {
			return parseJSONString(s.Value)
		}
		return parseLiteralValue(valueAST)
	},
})

// parseJSONString decodes an Extended JSON object or array. Anything else
// is kept as a plain string.
func parseJSONString(s string) interface{} {
	if len(s) > 0 {
		switch s[0] {
		case '{':
			if doc, err := document.ParseJSON([]byte(s)); err == nil {
				return doc
			}
		case '[':
			if docs, err := document.ParseJSONArray([]byte(s)); err == nil {
				return document.Normalize(docs)
			}
		}
	}
	return s
}

// parseLiteralValue builds normalized document values from AST literals
func parseLiteralValue(valueAST ast.Value) interface{} {
	switch valueAST := valueAST.(type) {
	case *ast.ObjectValue:
		doc := document.NewDocument()
		for _, field := range valueAST.Fields {
			doc.Set(field.Name.Value, parseLiteralValue(field.Value))
		}
		return doc
	case *ast.ListValue:
		list := make([]interface{}, len(valueAST.Values))
		for i, value := range valueAST.Values {
			list[i] = parseLiteralValue(value)
		}
		return list
	case *ast.StringValue:
		return valueAST.Value
	case *ast.IntValue:
		n, err := strconv.ParseInt(valueAST.Value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	case *ast.FloatValue:
		f, err := strconv.ParseFloat(valueAST.Value, 64)
		if err != nil {
			return nil
		}
		return f
	case *ast.BooleanValue:
		return valueAST.Value
	case *ast.EnumValue:
		return valueAST.Value
	default:
		return nil
	}
}
