package query

import (
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Filter is a parsed predicate: a tree of terms joined by an implicit AND
// at the top level. Shape and operand types are validated once by Parse,
// so matching never fails.
type Filter struct {
	root *andNode
}

// node is one term of the predicate tree
type node interface {
	matches(doc *document.Document) bool
}

type andNode struct {
	children []node
}

func (n *andNode) matches(doc *document.Document) bool {
	for _, child := range n.children {
		if !child.matches(doc) {
			return false
		}
	}
	return true
}

type orNode struct {
	children []node
}

func (n *orNode) matches(doc *document.Document) bool {
	for _, child := range n.children {
		if child.matches(doc) {
			return true
		}
	}
	return false
}

// fieldNode applies every condition to the value found at path
type fieldNode struct {
	path       string
	conditions []condition
}

func (n *fieldNode) matches(doc *document.Document) bool {
	value, ok := doc.GetPath(n.path)
	for _, cond := range n.conditions {
		if !cond.matches(value, ok) {
			return false
		}
	}
	return true
}

// MatchAll returns a filter that matches every document
func MatchAll() *Filter {
	return &Filter{root: &andNode{}}
}

// Parse parses a filter document such as
// {"type": "movie", "average_rating": {"$gte": 4.8}}.
// A nil document matches everything.
func Parse(filter *document.Document) (*Filter, error) {
	if filter == nil {
		return MatchAll(), nil
	}
	root, err := parseAnd(filter)
	if err != nil {
		return nil, err
	}
	return &Filter{root: root}, nil
}

// MustParse is like Parse but panics on error
func MustParse(filter *document.Document) *Filter {
	f, err := Parse(filter)
	if err != nil {
		panic(err)
	}
	return f
}

func parseAnd(filter *document.Document) (*andNode, error) {
	root := &andNode{children: make([]node, 0, filter.Len())}

	for _, key := range filter.Keys() {
		value, _ := filter.Get(key)

		switch {
		case key == string(OpAnd):
			children, err := parseClauses(OpAnd, value)
			if err != nil {
				return nil, err
			}
			root.children = append(root.children, &andNode{children: children})
		case key == string(OpOr):
			children, err := parseClauses(OpOr, value)
			if err != nil {
				return nil, err
			}
			root.children = append(root.children, &orNode{children: children})
		case strings.HasPrefix(key, "$"):
			return nil, invalidf("unknown top-level operator %s", key)
		case key == "":
			return nil, invalidf("empty field name")
		default:
			field, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			root.children = append(root.children, field)
		}
	}

	return root, nil
}

// parseClauses parses the array operand of $and / $or
func parseClauses(op Operator, value interface{}) ([]node, error) {
	arr, ok := value.([]interface{})
	if !ok || len(arr) == 0 {
		return nil, invalidf("%s requires a non-empty array of filters", op)
	}

	children := make([]node, 0, len(arr))
	for i, item := range arr {
		clause, ok := item.(*document.Document)
		if !ok {
			return nil, invalidf("%s element %d is not a document", op, i)
		}
		child, err := parseAnd(clause)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// parseField parses a field term: either a literal (implicit equality) or
// an operator document like {"$gte": 4.8, "$lt": 5}
func parseField(path string, value interface{}) (*fieldNode, error) {
	field := &fieldNode{path: path}

	opDoc, ok := value.(*document.Document)
	if !ok || !isOperatorDocument(opDoc) {
		field.conditions = []condition{eqCondition{value: value}}
		return field, nil
	}

	for _, key := range opDoc.Keys() {
		if !strings.HasPrefix(key, "$") {
			return nil, invalidf("field %s mixes operators and plain fields", path)
		}
		operand, _ := opDoc.Get(key)
		cond, err := parseCondition(Operator(key), operand)
		if err != nil {
			return nil, err
		}
		field.conditions = append(field.conditions, cond)
	}
	return field, nil
}

func isOperatorDocument(doc *document.Document) bool {
	keys := doc.Keys()
	return len(keys) > 0 && strings.HasPrefix(keys[0], "$")
}

// Matches checks if a document matches the filter
func (f *Filter) Matches(doc *document.Document) bool {
	if f == nil || f.root == nil {
		return true
	}
	return f.root.matches(doc)
}

// IsEmpty reports whether the filter has no terms
func (f *Filter) IsEmpty() bool {
	return f == nil || f.root == nil || len(f.root.children) == 0
}

// EqualityValues returns the fields constrained by scalar equality in the
// conjunctive part of the filter (top level and nested $and), mapped to the
// required value. Array and document operands are left out because indexes
// store array fields element by element.
func (f *Filter) EqualityValues() map[string]interface{} {
	result := make(map[string]interface{})
	if f == nil || f.root == nil {
		return result
	}
	collectEqualities(f.root, result)
	return result
}

func collectEqualities(n *andNode, out map[string]interface{}) {
	for _, child := range n.children {
		switch c := child.(type) {
		case *andNode:
			collectEqualities(c, out)
		case *fieldNode:
			for _, cond := range c.conditions {
				eq, ok := cond.(eqCondition)
				if !ok {
					continue
				}
				switch eq.value.(type) {
				case []interface{}, *document.Document:
					continue
				}
				if _, seen := out[c.path]; !seen {
					out[c.path] = eq.value
				}
			}
		}
	}
}
