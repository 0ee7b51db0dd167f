package aggregation

import (
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

// Expression computes a value from a document. ok is false when the result
// is missing, which is distinct from null.
type Expression interface {
	Eval(doc *document.Document) (value interface{}, ok bool, err error)
}

// CompileExpression compiles an expression such as "$average_rating",
// {"$size": {"$ifNull": ["$viewing_history", []]}} or a literal
func CompileExpression(spec interface{}) (Expression, error) {
	switch v := spec.(type) {
	case string:
		if strings.HasPrefix(v, "$") {
			path := v[1:]
			if path == "" || strings.HasPrefix(path, "$") {
				return nil, invalidf("invalid field path %q", v)
			}
			return fieldExpr{path: path}, nil
		}
		return literalExpr{value: v}, nil
	case []interface{}:
		items := make([]Expression, len(v))
		for i, item := range v {
			e, err := CompileExpression(item)
			if err != nil {
				return nil, err
			}
			items[i] = e
		}
		return arrayExpr{items: items}, nil
	case *document.Document:
		keys := v.Keys()
		if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
			operand, _ := v.Get(keys[0])
			return compileOperator(keys[0], operand)
		}
		fields := make([]namedExpr, 0, len(keys))
		for _, k := range keys {
			if strings.HasPrefix(k, "$") {
				return nil, invalidf("operator %s must be the only key of its expression", k)
			}
			item, _ := v.Get(k)
			e, err := CompileExpression(item)
			if err != nil {
				return nil, err
			}
			fields = append(fields, namedExpr{name: k, expr: e})
		}
		return objectExpr{fields: fields}, nil
	default:
		return literalExpr{value: v}, nil
	}
}

type fieldExpr struct {
	path string
}

func (e fieldExpr) Eval(doc *document.Document) (interface{}, bool, error) {
	v, ok := doc.GetPath(e.path)
	return v, ok, nil
}

type literalExpr struct {
	value interface{}
}

func (e literalExpr) Eval(*document.Document) (interface{}, bool, error) {
	return document.CloneValue(e.value), true, nil
}

type arrayExpr struct {
	items []Expression
}

func (e arrayExpr) Eval(doc *document.Document) (interface{}, bool, error) {
	out := make([]interface{}, 0, len(e.items))
	for _, item := range e.items {
		v, ok, err := item.Eval(doc)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			v = nil
		}
		out = append(out, v)
	}
	return out, true, nil
}

type namedExpr struct {
	name string
	expr Expression
}

// objectExpr builds a sub-document; missing fields are left out
type objectExpr struct {
	fields []namedExpr
}

func (e objectExpr) Eval(doc *document.Document) (interface{}, bool, error) {
	out := document.NewDocument()
	for _, f := range e.fields {
		v, ok, err := f.expr.Eval(doc)
		if err != nil {
			return nil, false, err
		}
		if ok {
			out.Set(f.name, v)
		}
	}
	return out, true, nil
}

// operatorExpr evaluates its arguments and hands them to fn. Missing
// arguments are passed as nil with present=false.
type operatorExpr struct {
	name string
	args []Expression
	fn   func(args []arg) (interface{}, error)
}

type arg struct {
	value   interface{}
	present bool
}

func (a arg) isNullish() bool {
	return !a.present || a.value == nil
}

func (e operatorExpr) Eval(doc *document.Document) (interface{}, bool, error) {
	args := make([]arg, len(e.args))
	for i, a := range e.args {
		v, ok, err := a.Eval(doc)
		if err != nil {
			return nil, false, err
		}
		args[i] = arg{value: v, present: ok}
	}
	v, err := e.fn(args)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func compileOperator(name string, operand interface{}) (Expression, error) {
	if name == "$literal" {
		return literalExpr{value: operand}, nil
	}

	// Operators take an argument list; a single non-array operand is a
	// one-element list.
	var raw []interface{}
	if arr, ok := operand.([]interface{}); ok {
		raw = arr
	} else {
		raw = []interface{}{operand}
	}

	args := make([]Expression, len(raw))
	for i, r := range raw {
		e, err := CompileExpression(r)
		if err != nil {
			return nil, err
		}
		args[i] = e
	}

	op := operatorExpr{name: name, args: args}
	switch name {
	case "$ifNull":
		if len(args) < 2 {
			return nil, invalidf("$ifNull requires at least two arguments")
		}
		op.fn = evalIfNull
	case "$size":
		if len(args) != 1 {
			return nil, invalidf("$size requires exactly one argument")
		}
		op.fn = evalSize
	case "$divide":
		if len(args) != 2 {
			return nil, invalidf("$divide requires exactly two arguments")
		}
		op.fn = evalDivide
	case "$subtract":
		if len(args) != 2 {
			return nil, invalidf("$subtract requires exactly two arguments")
		}
		op.fn = func(a []arg) (interface{}, error) { return arithmetic("$subtract", a) }
	case "$add":
		op.fn = func(a []arg) (interface{}, error) { return arithmetic("$add", a) }
	case "$multiply":
		op.fn = func(a []arg) (interface{}, error) { return arithmetic("$multiply", a) }
	case "$sum":
		op.fn = evalSum
	case "$avg":
		op.fn = evalAvg
	default:
		return nil, invalidf("unknown expression operator %s", name)
	}
	return op, nil
}

func evalIfNull(args []arg) (interface{}, error) {
	for _, a := range args[:len(args)-1] {
		if !a.isNullish() {
			return a.value, nil
		}
	}
	last := args[len(args)-1]
	if !last.present {
		return nil, nil
	}
	return last.value, nil
}

func evalSize(args []arg) (interface{}, error) {
	a := args[0]
	if a.isNullish() {
		return int64(0), nil
	}
	arr, ok := a.value.([]interface{})
	if !ok {
		return nil, invalidf("$size requires an array, got %s", document.TypeOf(a.value))
	}
	return int64(len(arr)), nil
}

func evalDivide(args []arg) (interface{}, error) {
	if args[0].isNullish() || args[1].isNullish() {
		return nil, nil
	}
	num, ok1 := document.ToFloat64(args[0].value)
	den, ok2 := document.ToFloat64(args[1].value)
	if !ok1 || !ok2 {
		return nil, invalidf("$divide requires numeric arguments")
	}
	if den == 0 {
		return nil, nil
	}
	return num / den, nil
}

// arithmetic implements $add, $subtract and $multiply. Integer inputs stay
// int64; any null or missing argument yields null.
func arithmetic(name string, args []arg) (interface{}, error) {
	allInts := true
	for _, a := range args {
		if a.isNullish() {
			return nil, nil
		}
		if !document.IsNumber(a.value) {
			return nil, invalidf("%s requires numeric arguments, got %s", name, document.TypeOf(a.value))
		}
		if _, ok := a.value.(int64); !ok {
			allInts = false
		}
	}
	if len(args) == 0 {
		if name == "$multiply" {
			return int64(1), nil
		}
		return int64(0), nil
	}

	if allInts {
		acc := args[0].value.(int64)
		for _, a := range args[1:] {
			v := a.value.(int64)
			switch name {
			case "$add":
				acc += v
			case "$subtract":
				acc -= v
			case "$multiply":
				acc *= v
			}
		}
		return acc, nil
	}

	acc, _ := document.ToFloat64(args[0].value)
	for _, a := range args[1:] {
		v, _ := document.ToFloat64(a.value)
		switch name {
		case "$add":
			acc += v
		case "$subtract":
			acc -= v
		case "$multiply":
			acc *= v
		}
	}
	return acc, nil
}

// numericValues collects the numbers an expression operator reduces over:
// with one argument that is an array, its elements; otherwise the
// arguments themselves. Non-numeric values are ignored.
func numericValues(args []arg) []interface{} {
	var values []interface{}
	if len(args) == 1 {
		if arr, ok := args[0].value.([]interface{}); ok {
			values = flatten(arr)
		} else if args[0].present {
			values = []interface{}{args[0].value}
		}
	} else {
		for _, a := range args {
			if a.present {
				values = append(values, a.value)
			}
		}
	}

	nums := values[:0:0]
	for _, v := range values {
		if document.IsNumber(v) {
			nums = append(nums, v)
		}
	}
	return nums
}

func flatten(arr []interface{}) []interface{} {
	out := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		if nested, ok := item.([]interface{}); ok {
			out = append(out, nested...)
			continue
		}
		out = append(out, item)
	}
	return out
}

func evalSum(args []arg) (interface{}, error) {
	s := newSum()
	for _, v := range numericValues(args) {
		s.add(v)
	}
	return s.result(), nil
}

func evalAvg(args []arg) (interface{}, error) {
	nums := numericValues(args)
	if len(nums) == 0 {
		return nil, nil
	}
	total := 0.0
	for _, v := range nums {
		f, _ := document.ToFloat64(v)
		total += f
	}
	return total / float64(len(nums)), nil
}

// sum adds numbers, staying int64 until a float is seen
type sum struct {
	ints    int64
	floats  float64
	isFloat bool
}

func newSum() *sum {
	return &sum{}
}

func (s *sum) add(v interface{}) {
	switch n := v.(type) {
	case int64:
		s.ints += n
	case float64:
		s.floats += n
		s.isFloat = true
	}
}

func (s *sum) result() interface{} {
	if s.isFloat {
		return s.floats + float64(s.ints)
	}
	return s.ints
}

func invalidf(format string, args ...interface{}) error {
	return query.Invalidf(format, args...)
}
