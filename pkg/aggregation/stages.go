package aggregation

import (
	"context"
	"io"
	"strings"

	"github.com/mnohosten/streamhub/pkg/document"
	"github.com/mnohosten/streamhub/pkg/query"
)

// MatchStage filters documents
type MatchStage struct {
	filter *query.Filter
}

func newMatchStage(spec interface{}) (*MatchStage, error) {
	filterDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, invalidf("$match requires a filter object")
	}
	filter, err := query.Parse(filterDoc)
	if err != nil {
		return nil, err
	}
	return &MatchStage{filter: filter}, nil
}

func (s *MatchStage) Apply(in Stream) Stream {
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		for {
			doc, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			if s.filter.Matches(doc) {
				return doc, nil
			}
		}
	})
}

func (s *MatchStage) Type() string {
	return "$match"
}

// ProjectStage reshapes documents. In inclusion mode only the listed and
// computed fields are kept; in exclusion mode the listed fields are
// removed. _id is kept unless explicitly excluded.
type ProjectStage struct {
	include   []string
	exclude   []string
	computed  []namedExpr
	keepID    bool
	exclusion bool
}

func newProjectStage(spec interface{}) (*ProjectStage, error) {
	projection, ok := spec.(*document.Document)
	if !ok || projection.Len() == 0 {
		return nil, invalidf("$project requires a non-empty projection object")
	}

	s := &ProjectStage{keepID: true}
	for _, field := range projection.Keys() {
		value, _ := projection.Get(field)
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, invalidf("$project: invalid field name %q", field)
		}

		flag, isFlag := projectionFlag(value)
		if field == "_id" && isFlag {
			s.keepID = flag
			continue
		}

		switch {
		case isFlag && flag:
			s.include = append(s.include, field)
		case isFlag:
			s.exclude = append(s.exclude, field)
		default:
			expr, err := CompileExpression(value)
			if err != nil {
				return nil, err
			}
			s.computed = append(s.computed, namedExpr{name: field, expr: expr})
		}
	}

	if len(s.exclude) > 0 && (len(s.include) > 0 || len(s.computed) > 0) {
		return nil, invalidf("$project cannot mix inclusion and exclusion")
	}
	s.exclusion = len(s.exclude) > 0 || (len(s.include) == 0 && len(s.computed) == 0 && !s.keepID)
	return s, nil
}

// projectionFlag interprets 1/0/true/false projection values
func projectionFlag(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case int64:
		return val != 0, true
	case float64:
		return val != 0, true
	}
	return false, false
}

func (s *ProjectStage) Apply(in Stream) Stream {
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		doc, err := in.Next(ctx)
		if err != nil {
			return nil, err
		}
		return s.project(doc)
	})
}

func (s *ProjectStage) project(doc *document.Document) (*document.Document, error) {
	if s.exclusion {
		out := doc.Clone()
		for _, field := range s.exclude {
			out.DeletePath(field)
		}
		if !s.keepID {
			out.Delete("_id")
		}
		return out, nil
	}

	out := document.NewDocument()
	if s.keepID {
		if id, ok := doc.Get("_id"); ok {
			out.Set("_id", id)
		}
	}
	for _, field := range s.include {
		if value, ok := doc.GetPath(field); ok {
			if err := out.SetPath(field, document.CloneValue(value)); err != nil {
				return nil, invalidf("$project: %v", err)
			}
		}
	}
	for _, c := range s.computed {
		value, ok, err := c.expr.Eval(doc)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := out.SetPath(c.name, value); err != nil {
			return nil, invalidf("$project: %v", err)
		}
	}
	return out, nil
}

func (s *ProjectStage) Type() string {
	return "$project"
}

// SortStage sorts documents. Stable: ties keep their input order.
type SortStage struct {
	fields []query.SortField
}

func newSortStage(spec interface{}) (*SortStage, error) {
	sortDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, invalidf("$sort requires a sort object")
	}
	fields, err := query.ParseSort(sortDoc)
	if err != nil {
		return nil, err
	}
	return &SortStage{fields: fields}, nil
}

func (s *SortStage) Apply(in Stream) Stream {
	return &materialized{
		source: in,
		fill: func(_ context.Context, docs []*document.Document) ([]*document.Document, error) {
			query.SortDocuments(docs, s.fields)
			return docs, nil
		},
	}
}

func (s *SortStage) Type() string {
	return "$sort"
}

// LimitStage passes through the first N documents
type LimitStage struct {
	limit int64
}

func newLimitStage(spec interface{}) (*LimitStage, error) {
	limit, ok := document.ToInt64(spec)
	if !ok || limit <= 0 {
		return nil, invalidf("$limit requires a positive integer")
	}
	return &LimitStage{limit: limit}, nil
}

func (s *LimitStage) Apply(in Stream) Stream {
	var n int64
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		if n >= s.limit {
			return nil, io.EOF
		}
		doc, err := in.Next(ctx)
		if err != nil {
			return nil, err
		}
		n++
		return doc, nil
	})
}

func (s *LimitStage) Type() string {
	return "$limit"
}

// SkipStage drops the first N documents
type SkipStage struct {
	skip int64
}

func newSkipStage(spec interface{}) (*SkipStage, error) {
	skip, ok := document.ToInt64(spec)
	if !ok || skip < 0 {
		return nil, invalidf("$skip requires a non-negative integer")
	}
	return &SkipStage{skip: skip}, nil
}

func (s *SkipStage) Apply(in Stream) Stream {
	var skipped int64
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		for skipped < s.skip {
			if _, err := in.Next(ctx); err != nil {
				return nil, err
			}
			skipped++
		}
		return in.Next(ctx)
	})
}

func (s *SkipStage) Type() string {
	return "$skip"
}

// GroupStage groups documents by the _id expression. Groups are emitted
// in the order their key was first seen.
type GroupStage struct {
	key          Expression
	accumulators []accumulatorSpec
}

func newGroupStage(spec interface{}) (*GroupStage, error) {
	groupSpec, ok := spec.(*document.Document)
	if !ok {
		return nil, invalidf("$group requires a group specification")
	}
	idSpec, ok := groupSpec.Get("_id")
	if !ok {
		return nil, invalidf("$group requires an _id field")
	}
	key, err := CompileExpression(idSpec)
	if err != nil {
		return nil, err
	}

	s := &GroupStage{key: key}
	for _, field := range groupSpec.Keys() {
		if field == "_id" {
			continue
		}
		if strings.Contains(field, ".") || strings.HasPrefix(field, "$") {
			return nil, invalidf("$group: invalid output field %q", field)
		}
		value, _ := groupSpec.Get(field)
		acc, err := compileAccumulator(field, value)
		if err != nil {
			return nil, err
		}
		s.accumulators = append(s.accumulators, acc)
	}
	return s, nil
}

type group struct {
	key  interface{}
	accs []accumulator
}

func (s *GroupStage) Apply(in Stream) Stream {
	return &materialized{
		source: in,
		fill: func(ctx context.Context, docs []*document.Document) ([]*document.Document, error) {
			var order []*group
			groups := make(map[string]*group)

			for _, doc := range docs {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				key, ok, err := s.key.Eval(doc)
				if err != nil {
					return nil, err
				}
				if !ok {
					key = nil
				}

				canonical := document.CanonicalKey(key)
				g, exists := groups[canonical]
				if !exists {
					g = &group{key: key, accs: make([]accumulator, len(s.accumulators))}
					for i, spec := range s.accumulators {
						g.accs[i] = spec.newAccumulator()
					}
					groups[canonical] = g
					order = append(order, g)
				}

				for i, spec := range s.accumulators {
					value, present, err := spec.expr.Eval(doc)
					if err != nil {
						return nil, err
					}
					g.accs[i].add(value, present)
				}
			}

			out := make([]*document.Document, 0, len(order))
			for _, g := range order {
				doc := document.NewDocument()
				doc.Set("_id", g.key)
				for i, spec := range s.accumulators {
					doc.Set(spec.field, g.accs[i].result())
				}
				out = append(out, doc)
			}
			return out, nil
		},
	}
}

func (s *GroupStage) Type() string {
	return "$group"
}

// UnwindStage emits one document per element of an array field. Missing,
// null and empty arrays produce nothing unless preserveNullAndEmptyArrays
// is set; a non-array value is treated as a one-element array.
type UnwindStage struct {
	path              string
	includeArrayIndex string
	preserve          bool
}

func newUnwindStage(spec interface{}) (*UnwindStage, error) {
	s := &UnwindStage{}

	var pathSpec interface{} = spec
	if opts, ok := spec.(*document.Document); ok {
		pathSpec, _ = opts.Get("path")
		for _, key := range opts.Keys() {
			value, _ := opts.Get(key)
			switch key {
			case "path":
			case "preserveNullAndEmptyArrays":
				b, ok := value.(bool)
				if !ok {
					return nil, invalidf("$unwind: preserveNullAndEmptyArrays must be a boolean")
				}
				s.preserve = b
			case "includeArrayIndex":
				name, ok := value.(string)
				if !ok || name == "" || strings.HasPrefix(name, "$") {
					return nil, invalidf("$unwind: includeArrayIndex must be a field name")
				}
				s.includeArrayIndex = name
			default:
				return nil, invalidf("$unwind: unknown option %s", key)
			}
		}
	}

	path, ok := pathSpec.(string)
	if !ok || len(path) < 2 || !strings.HasPrefix(path, "$") {
		return nil, invalidf("$unwind requires a field path such as \"$genres\"")
	}
	s.path = path[1:]
	return s, nil
}

func (s *UnwindStage) Apply(in Stream) Stream {
	var pending []*document.Document
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		for len(pending) == 0 {
			doc, err := in.Next(ctx)
			if err != nil {
				return nil, err
			}
			pending, err = s.unwind(doc)
			if err != nil {
				return nil, err
			}
		}
		doc := pending[0]
		pending = pending[1:]
		return doc, nil
	})
}

func (s *UnwindStage) unwind(doc *document.Document) ([]*document.Document, error) {
	value, ok := doc.GetPath(s.path)
	arr, isArray := value.([]interface{})

	switch {
	case !ok || value == nil || (isArray && len(arr) == 0):
		if !s.preserve {
			return nil, nil
		}
		out := doc.Clone()
		if isArray {
			out.DeletePath(s.path)
		}
		if err := s.setIndex(out, nil); err != nil {
			return nil, err
		}
		return []*document.Document{out}, nil
	case !isArray:
		arr = []interface{}{value}
	}

	out := make([]*document.Document, 0, len(arr))
	for i, element := range arr {
		d := doc.Clone()
		if err := d.SetPath(s.path, document.CloneValue(element)); err != nil {
			return nil, invalidf("$unwind: %v", err)
		}
		var index interface{} = int64(i)
		if !isArray {
			index = nil
		}
		if err := s.setIndex(d, index); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *UnwindStage) setIndex(doc *document.Document, index interface{}) error {
	if s.includeArrayIndex == "" {
		return nil
	}
	if err := doc.SetPath(s.includeArrayIndex, index); err != nil {
		return invalidf("$unwind: %v", err)
	}
	return nil
}

func (s *UnwindStage) Type() string {
	return "$unwind"
}

// AddFieldsStage evaluates expressions against each document and merges
// the results, overwriting existing fields
type AddFieldsStage struct {
	name   string
	fields []namedExpr
}

func newAddFieldsStage(name string, spec interface{}) (*AddFieldsStage, error) {
	fieldsDoc, ok := spec.(*document.Document)
	if !ok || fieldsDoc.Len() == 0 {
		return nil, invalidf("%s requires a non-empty object", name)
	}

	s := &AddFieldsStage{name: name}
	for _, field := range fieldsDoc.Keys() {
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, invalidf("%s: invalid field name %q", name, field)
		}
		value, _ := fieldsDoc.Get(field)
		expr, err := CompileExpression(value)
		if err != nil {
			return nil, err
		}
		s.fields = append(s.fields, namedExpr{name: field, expr: expr})
	}
	return s, nil
}

func (s *AddFieldsStage) Apply(in Stream) Stream {
	return StreamFunc(func(ctx context.Context) (*document.Document, error) {
		doc, err := in.Next(ctx)
		if err != nil {
			return nil, err
		}

		out := doc.Clone()
		for _, f := range s.fields {
			value, ok, err := f.expr.Eval(doc)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if err := out.SetPath(f.name, value); err != nil {
				return nil, invalidf("%s: %v", s.name, err)
			}
		}
		return out, nil
	})
}

func (s *AddFieldsStage) Type() string {
	return s.name
}

// CountStage replaces the stream with a single {<field>: n} document.
// An empty input produces no output.
type CountStage struct {
	field string
}

func newCountStage(spec interface{}) (*CountStage, error) {
	field, ok := spec.(string)
	if !ok || field == "" || strings.HasPrefix(field, "$") || strings.Contains(field, ".") {
		return nil, invalidf("$count requires a non-empty field name")
	}
	return &CountStage{field: field}, nil
}

func (s *CountStage) Apply(in Stream) Stream {
	return &materialized{
		source: in,
		fill: func(_ context.Context, docs []*document.Document) ([]*document.Document, error) {
			if len(docs) == 0 {
				return nil, nil
			}
			out := document.NewDocument()
			out.Set(s.field, int64(len(docs)))
			return []*document.Document{out}, nil
		},
	}
}

func (s *CountStage) Type() string {
	return "$count"
}
