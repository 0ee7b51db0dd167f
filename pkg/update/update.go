// Package update parses and applies field-level update operators such as
// {"$set": {"total_contents": 3}, "$push": {"contents": {...}}}.
package update

import (
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

// Operator represents an update operator
type Operator string

const (
	OpSet      Operator = "$set"
	OpUnset    Operator = "$unset"
	OpInc      Operator = "$inc"
	OpMul      Operator = "$mul"
	OpPush     Operator = "$push"
	OpAddToSet Operator = "$addToSet"
	OpPull     Operator = "$pull"
)

// action is one operator applied to one field path
type action struct {
	op     Operator
	path   string
	values []interface{} // $each operands for $push / $addToSet, else a single value
}

// Update is a parsed update specification. Apply never mutates its input.
type Update struct {
	actions []action
}

// Parse validates an update document. Operators run in the order given.
func Parse(spec *document.Document) (*Update, error) {
	if spec == nil || spec.Len() == 0 {
		return nil, invalidf("update must contain at least one operator")
	}

	u := &Update{}
	for _, key := range spec.Keys() {
		op := Operator(key)
		switch op {
		case OpSet, OpUnset, OpInc, OpMul, OpPush, OpAddToSet, OpPull:
		default:
			if !strings.HasPrefix(key, "$") {
				return nil, invalidf("update must use operators, got field %q", key)
			}
			return nil, invalidf("unknown update operator %s", key)
		}

		raw, _ := spec.Get(key)
		fields, ok := raw.(*document.Document)
		if !ok || fields.Len() == 0 {
			return nil, invalidf("%s requires a non-empty document", op)
		}

		for _, path := range fields.Keys() {
			if path == "" || strings.HasPrefix(path, "$") {
				return nil, invalidf("%s: invalid field path %q", op, path)
			}
			if path == "_id" || strings.HasPrefix(path, "_id.") {
				return nil, invalidf("%s: _id is immutable", op)
			}
			value, _ := fields.Get(path)
			a, err := parseAction(op, path, value)
			if err != nil {
				return nil, err
			}
			u.actions = append(u.actions, a)
		}
	}
	return u, nil
}

// MustParse is like Parse but panics on error
func MustParse(spec *document.Document) *Update {
	u, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return u
}

func parseAction(op Operator, path string, value interface{}) (action, error) {
	a := action{op: op, path: path}

	switch op {
	case OpInc, OpMul:
		if !document.IsNumber(value) {
			return a, invalidf("%s on %s requires a number, got %s", op, path, document.TypeOf(value))
		}
		a.values = []interface{}{value}
	case OpPush, OpAddToSet:
		a.values = []interface{}{value}
		if mod, ok := value.(*document.Document); ok && mod.Has("$each") {
			if mod.Len() != 1 {
				return a, invalidf("%s on %s: unsupported modifier alongside $each", op, path)
			}
			each, _ := mod.Get("$each")
			items, ok := each.([]interface{})
			if !ok {
				return a, invalidf("%s on %s: $each requires an array", op, path)
			}
			a.values = items
		}
	default:
		a.values = []interface{}{value}
	}
	return a, nil
}

// Apply returns a copy of doc with the update applied
func (u *Update) Apply(doc *document.Document) (*document.Document, error) {
	out := doc.Clone()
	for _, a := range u.actions {
		if err := a.apply(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Paths returns the field paths the update writes
func (u *Update) Paths() []string {
	paths := make([]string, len(u.actions))
	for i, a := range u.actions {
		paths[i] = a.path
	}
	return paths
}

func (a action) apply(doc *document.Document) error {
	current, exists := doc.GetPath(a.path)

	switch a.op {
	case OpSet:
		return a.set(doc, document.CloneValue(a.values[0]))

	case OpUnset:
		doc.DeletePath(a.path)
		return nil

	case OpInc, OpMul:
		operand := a.values[0]
		if !exists {
			if a.op == OpMul {
				return a.set(doc, zeroLike(operand))
			}
			return a.set(doc, operand)
		}
		if !document.IsNumber(current) {
			return invalidf("%s on %s: field is %s, not a number", a.op, a.path, document.TypeOf(current))
		}
		return a.set(doc, arithmetic(a.op, current, operand))

	case OpPush, OpAddToSet:
		var arr []interface{}
		if exists {
			existing, ok := current.([]interface{})
			if !ok {
				return invalidf("%s on %s: field is %s, not an array", a.op, a.path, document.TypeOf(current))
			}
			arr = append(arr, existing...)
		}
		for _, v := range a.values {
			if a.op == OpAddToSet && contains(arr, v) {
				continue
			}
			arr = append(arr, document.CloneValue(v))
		}
		if arr == nil {
			arr = []interface{}{}
		}
		return a.set(doc, arr)

	case OpPull:
		if !exists {
			return nil
		}
		existing, ok := current.([]interface{})
		if !ok {
			return invalidf("$pull on %s: field is %s, not an array", a.path, document.TypeOf(current))
		}
		kept := make([]interface{}, 0, len(existing))
		for _, item := range existing {
			if !document.Equal(item, a.values[0]) {
				kept = append(kept, item)
			}
		}
		return a.set(doc, kept)
	}
	return nil
}

func (a action) set(doc *document.Document, value interface{}) error {
	if err := doc.SetPath(a.path, value); err != nil {
		return invalidf("%s on %s: %v", a.op, a.path, err)
	}
	return nil
}

// arithmetic keeps int64 when both sides are integers
func arithmetic(op Operator, current, operand interface{}) interface{} {
	ci, cInt := current.(int64)
	oi, oInt := operand.(int64)
	if cInt && oInt {
		if op == OpMul {
			return ci * oi
		}
		return ci + oi
	}

	cf, _ := document.ToFloat64(current)
	of, _ := document.ToFloat64(operand)
	if op == OpMul {
		return cf * of
	}
	return cf + of
}

func zeroLike(v interface{}) interface{} {
	if _, ok := v.(int64); ok {
		return int64(0)
	}
	return 0.0
}

func contains(arr []interface{}, v interface{}) bool {
	for _, item := range arr {
		if document.Equal(item, v) {
			return true
		}
	}
	return false
}

func invalidf(format string, args ...interface{}) error {
	return query.Invalidf(format, args...)
}
