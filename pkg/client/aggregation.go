package client

import (
	"context"
	"net/http"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Aggregate executes an aggregation pipeline
func (c *Collection) Aggregate(ctx context.Context, pipeline []*document.Document) ([]*document.Document, error) {
	stages := make([]interface{}, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = stage
	}
	body := document.NewDocument()
	body.Set("pipeline", stages)

	env, err := c.client.doRequest(ctx, http.MethodPost, c.path("/_aggregate"), body)
	if err != nil {
		return nil, err
	}
	return docsField(env, "result")
}

// NewPipeline creates a new aggregation pipeline builder
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{}
}

// PipelineBuilder helps build aggregation pipelines. Stage specs are
// documents so sort and group keys keep their order.
type PipelineBuilder struct {
	stages []*document.Document
}

func (pb *PipelineBuilder) add(stage string, spec interface{}) *PipelineBuilder {
	doc := document.NewDocument()
	doc.Set(stage, spec)
	pb.stages = append(pb.stages, doc)
	return pb
}

// Match adds a $match stage to filter documents
func (pb *PipelineBuilder) Match(filter *document.Document) *PipelineBuilder {
	return pb.add("$match", filter)
}

// Group adds a $group stage. id is a field path such as "$genres", an
// expression document, or nil to group everything together.
func (pb *PipelineBuilder) Group(id interface{}, accumulators ...Accumulator) *PipelineBuilder {
	group := document.NewDocument()
	group.Set("_id", id)
	for _, acc := range accumulators {
		group.Set(acc.Field, acc.Spec)
	}
	return pb.add("$group", group)
}

// Project adds a $project stage to shape documents
func (pb *PipelineBuilder) Project(projection *document.Document) *PipelineBuilder {
	return pb.add("$project", projection)
}

// AddFields adds an $addFields stage
func (pb *PipelineBuilder) AddFields(fields *document.Document) *PipelineBuilder {
	return pb.add("$addFields", fields)
}

// Sort adds a $sort stage to order documents
func (pb *PipelineBuilder) Sort(sort *document.Document) *PipelineBuilder {
	return pb.add("$sort", sort)
}

// Unwind adds an $unwind stage for an array field path such as "$genres"
func (pb *PipelineBuilder) Unwind(path string) *PipelineBuilder {
	return pb.add("$unwind", path)
}

// Limit adds a $limit stage to limit the number of documents
func (pb *PipelineBuilder) Limit(limit int) *PipelineBuilder {
	return pb.add("$limit", int64(limit))
}

// Skip adds a $skip stage to skip documents
func (pb *PipelineBuilder) Skip(skip int) *PipelineBuilder {
	return pb.add("$skip", int64(skip))
}

// Count adds a $count stage writing the number of documents to field
func (pb *PipelineBuilder) Count(field string) *PipelineBuilder {
	return pb.add("$count", field)
}

// Build returns the completed pipeline
func (pb *PipelineBuilder) Build() []*document.Document {
	return pb.stages
}

// Execute runs the pipeline on the given collection
func (pb *PipelineBuilder) Execute(ctx context.Context, coll *Collection) ([]*document.Document, error) {
	return coll.Aggregate(ctx, pb.Build())
}

// Accumulator is one output field of a $group stage
type Accumulator struct {
	Field string
	Spec  *document.Document
}

func accumulator(field, op string, value interface{}) Accumulator {
	spec := document.NewDocument()
	spec.Set(op, value)
	return Accumulator{Field: field, Spec: spec}
}

// Sum creates a $sum accumulator over a field path
func Sum(field, path string) Accumulator {
	return accumulator(field, "$sum", "$"+path)
}

// SumValue creates a $sum accumulator with a constant value
func SumValue(field string, value interface{}) Accumulator {
	return accumulator(field, "$sum", value)
}

// Avg creates an $avg accumulator
func Avg(field, path string) Accumulator {
	return accumulator(field, "$avg", "$"+path)
}

// Min creates a $min accumulator
func Min(field, path string) Accumulator {
	return accumulator(field, "$min", "$"+path)
}

// Max creates a $max accumulator
func Max(field, path string) Accumulator {
	return accumulator(field, "$max", "$"+path)
}

// Push creates a $push accumulator
func Push(field, path string) Accumulator {
	return accumulator(field, "$push", "$"+path)
}

// First creates a $first accumulator
func First(field, path string) Accumulator {
	return accumulator(field, "$first", "$"+path)
}

// Count creates a count accumulator (sum of 1)
func Count(field string) Accumulator {
	return accumulator(field, "$sum", int64(1))
}
