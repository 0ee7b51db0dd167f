package aggregation

import (
	"github.com/mnohosten/streamhub/pkg/document"
)

// accumulator folds one expression over the documents of a group
type accumulator interface {
	add(value interface{}, present bool)
	result() interface{}
}

// accumulatorSpec is a compiled accumulator field of a $group stage
type accumulatorSpec struct {
	field string
	op    string
	expr  Expression
}

func (s accumulatorSpec) newAccumulator() accumulator {
	switch s.op {
	case "$sum":
		return &sumAccumulator{s: newSum()}
	case "$avg":
		return &avgAccumulator{}
	case "$min":
		return &extremeAccumulator{sign: -1}
	case "$max":
		return &extremeAccumulator{sign: 1}
	case "$count":
		return &countAccumulator{}
	case "$first":
		return &firstAccumulator{}
	case "$last":
		return &lastAccumulator{}
	default: // $push
		return &pushAccumulator{values: []interface{}{}}
	}
}

func compileAccumulator(field string, spec interface{}) (accumulatorSpec, error) {
	doc, ok := spec.(*document.Document)
	if !ok || doc.Len() != 1 {
		return accumulatorSpec{}, invalidf("$group field %s must be a single accumulator", field)
	}
	op := doc.Keys()[0]
	operand, _ := doc.Get(op)

	switch op {
	case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push":
	case "$count":
		if args, ok := operand.(*document.Document); !ok || args.Len() != 0 {
			return accumulatorSpec{}, invalidf("$count accumulator takes no arguments")
		}
		return accumulatorSpec{field: field, op: op, expr: literalExpr{value: int64(1)}}, nil
	default:
		return accumulatorSpec{}, invalidf("unknown accumulator %s", op)
	}

	expr, err := CompileExpression(operand)
	if err != nil {
		return accumulatorSpec{}, err
	}
	return accumulatorSpec{field: field, op: op, expr: expr}, nil
}

// sumAccumulator treats non-numeric and missing values as 0
type sumAccumulator struct {
	s *sum
}

func (a *sumAccumulator) add(value interface{}, present bool) {
	if present {
		a.s.add(value)
	}
}

func (a *sumAccumulator) result() interface{} {
	return a.s.result()
}

// avgAccumulator averages numeric values only; null when there are none
type avgAccumulator struct {
	total float64
	count int
}

func (a *avgAccumulator) add(value interface{}, present bool) {
	if !present {
		return
	}
	if f, ok := document.ToFloat64(value); ok {
		a.total += f
		a.count++
	}
}

func (a *avgAccumulator) result() interface{} {
	if a.count == 0 {
		return nil
	}
	return a.total / float64(a.count)
}

// extremeAccumulator implements $min (sign -1) and $max (sign 1), ignoring
// null and missing values
type extremeAccumulator struct {
	sign  int
	value interface{}
	seen  bool
}

func (a *extremeAccumulator) add(value interface{}, present bool) {
	if !present || value == nil {
		return
	}
	if !a.seen || document.Compare(value, a.value)*a.sign > 0 {
		a.value = value
		a.seen = true
	}
}

func (a *extremeAccumulator) result() interface{} {
	return a.value
}

type countAccumulator struct {
	n int64
}

func (a *countAccumulator) add(interface{}, bool) {
	a.n++
}

func (a *countAccumulator) result() interface{} {
	return a.n
}

type firstAccumulator struct {
	value interface{}
	seen  bool
}

func (a *firstAccumulator) add(value interface{}, present bool) {
	if a.seen {
		return
	}
	a.seen = true
	if present {
		a.value = value
	}
}

func (a *firstAccumulator) result() interface{} {
	return a.value
}

type lastAccumulator struct {
	value interface{}
}

func (a *lastAccumulator) add(value interface{}, present bool) {
	if present {
		a.value = value
	} else {
		a.value = nil
	}
}

func (a *lastAccumulator) result() interface{} {
	return a.value
}

// pushAccumulator collects values; missing values are skipped
type pushAccumulator struct {
	values []interface{}
}

func (a *pushAccumulator) add(value interface{}, present bool) {
	if present {
		a.values = append(a.values, value)
	}
}

func (a *pushAccumulator) result() interface{} {
	return a.values
}
