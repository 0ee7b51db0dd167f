package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/mnohosten/streamhub/pkg/document"
)

// ErrInvalidExpression is returned for malformed filters: unknown operators,
// operands of the wrong shape or type.
var ErrInvalidExpression = errors.New("invalid expression")

// Invalidf formats an error wrapping ErrInvalidExpression
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidExpression, fmt.Sprintf(format, args...))
}

func invalidf(format string, args ...interface{}) error {
	return Invalidf(format, args...)
}

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEqual              Operator = "$eq"
	OpNotEqual           Operator = "$ne"
	OpGreaterThan        Operator = "$gt"
	OpGreaterThanOrEqual Operator = "$gte"
	OpLessThan           Operator = "$lt"
	OpLessThanOrEqual    Operator = "$lte"
	OpIn                 Operator = "$in"
	OpNotIn              Operator = "$nin"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"

	// Element operators
	OpExists Operator = "$exists"
)

// condition is one operator applied to the values found at a field path
type condition interface {
	// matches receives ok=false when the field is absent
	matches(value interface{}, ok bool) bool
}

// eqCondition is equality, explicit ($eq) or implicit
type eqCondition struct {
	value interface{}
}

func (c eqCondition) matches(value interface{}, ok bool) bool {
	if !ok {
		return false
	}
	for _, candidate := range candidates(value) {
		if document.Compare(candidate, c.value) == 0 {
			return true
		}
	}
	return false
}

// rangeCondition is one of $gt, $gte, $lt, $lte
type rangeCondition struct {
	op    Operator
	value interface{}
}

func (c rangeCondition) matches(value interface{}, ok bool) bool {
	if !ok {
		return false
	}
	for _, candidate := range candidates(value) {
		if _, isArray := candidate.([]interface{}); isArray {
			continue
		}
		if !sameOrderedKind(candidate, c.value) {
			continue
		}
		cmp := document.Compare(candidate, c.value)
		switch c.op {
		case OpGreaterThan:
			if cmp > 0 {
				return true
			}
		case OpGreaterThanOrEqual:
			if cmp >= 0 {
				return true
			}
		case OpLessThan:
			if cmp < 0 {
				return true
			}
		case OpLessThanOrEqual:
			if cmp <= 0 {
				return true
			}
		}
	}
	return false
}

// inCondition is set membership ($in)
type inCondition struct {
	values []interface{}
}

func (c inCondition) matches(value interface{}, ok bool) bool {
	if !ok {
		return false
	}
	for _, candidate := range candidates(value) {
		for _, v := range c.values {
			if document.Compare(candidate, v) == 0 {
				return true
			}
		}
	}
	return false
}

// notCondition negates $eq or $in, giving $ne and $nin. A missing field
// satisfies the negation.
type notCondition struct {
	inner condition
}

func (c notCondition) matches(value interface{}, ok bool) bool {
	return !c.inner.matches(value, ok)
}

// existsCondition tests field presence
type existsCondition struct {
	want bool
}

func (c existsCondition) matches(_ interface{}, ok bool) bool {
	return ok == c.want
}

// candidates expands a field value into everything a comparison may be
// tested against: the value itself and, for arrays, each element. Arrays
// produced by traversing arrays of sub-documents are flattened one more
// level.
func candidates(value interface{}) []interface{} {
	arr, isArray := value.([]interface{})
	if !isArray {
		return []interface{}{value}
	}
	out := make([]interface{}, 0, len(arr)+1)
	out = append(out, value)
	for _, item := range arr {
		out = append(out, item)
		if nested, ok := item.([]interface{}); ok {
			out = append(out, nested...)
		}
	}
	return out
}

// sameOrderedKind reports whether two values can be range-compared:
// numbers with numbers, strings with strings, timestamps with timestamps
func sameOrderedKind(a, b interface{}) bool {
	switch a.(type) {
	case int64, float64:
		return document.IsNumber(b)
	case string:
		_, ok := b.(string)
		return ok
	case time.Time:
		_, ok := b.(time.Time)
		return ok
	}
	return false
}

// parseCondition builds the condition for one operator and validates its
// operand
func parseCondition(op Operator, operand interface{}) (condition, error) {
	switch op {
	case OpEqual:
		return eqCondition{value: operand}, nil
	case OpNotEqual:
		return notCondition{inner: eqCondition{value: operand}}, nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		switch operand.(type) {
		case int64, float64, string, time.Time:
			return rangeCondition{op: op, value: operand}, nil
		}
		return nil, invalidf("%s requires a number, string or date operand, got %s", op, document.TypeOf(operand))
	case OpIn, OpNotIn:
		values, ok := operand.([]interface{})
		if !ok {
			return nil, invalidf("%s requires an array, got %s", op, document.TypeOf(operand))
		}
		in := inCondition{values: values}
		if op == OpNotIn {
			return notCondition{inner: in}, nil
		}
		return in, nil
	case OpExists:
		switch v := operand.(type) {
		case bool:
			return existsCondition{want: v}, nil
		case int64:
			return existsCondition{want: v != 0}, nil
		}
		return nil, invalidf("$exists requires a boolean, got %s", document.TypeOf(operand))
	default:
		return nil, invalidf("unknown operator %s", op)
	}
}
