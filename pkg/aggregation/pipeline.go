package aggregation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mnohosten/streamhub/pkg/document"
)

// Pipeline represents an aggregation pipeline
type Pipeline struct {
	stages []Stage
}

// Stage represents a single stage in the pipeline. Apply wraps the input
// stream; work happens as the returned stream is consumed.
type Stage interface {
	Apply(in Stream) Stream
	Type() string
}

// StageError reports which stage of a pipeline failed
type StageError struct {
	Stage string
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s) failed: %v", e.Index, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewPipeline compiles stage documents such as
// [{"$unwind": "$genres"}, {"$group": {...}}, {"$sort": {...}}]
func NewPipeline(stages []*document.Document) (*Pipeline, error) {
	pipeline := &Pipeline{
		stages: make([]Stage, 0, len(stages)),
	}

	for i, stageDef := range stages {
		stage, err := createStage(stageDef)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		pipeline.stages = append(pipeline.stages, stage)
	}

	return pipeline, nil
}

// MustPipeline is like NewPipeline but panics on error
func MustPipeline(stages []*document.Document) *Pipeline {
	p, err := NewPipeline(stages)
	if err != nil {
		panic(err)
	}
	return p
}

// Stages returns the stage types in order
func (p *Pipeline) Stages() []string {
	types := make([]string, len(p.stages))
	for i, s := range p.stages {
		types[i] = s.Type()
	}
	return types
}

// Stream chains the stages over in and returns the output stream
func (p *Pipeline) Stream(in Stream) Stream {
	out := in
	for i, stage := range p.stages {
		out = &boundary{stage: stage, index: i, inner: stage.Apply(out)}
	}
	return out
}

// Execute runs the pipeline to completion. Any error aborts the whole run
// and no partial results are returned.
func (p *Pipeline) Execute(ctx context.Context, in Stream) ([]*document.Document, error) {
	return Collect(ctx, p.Stream(in))
}

// boundary checks for cancellation between stages and tags errors with
// the stage that raised them
type boundary struct {
	stage Stage
	index int
	inner Stream
}

func (b *boundary) Next(ctx context.Context) (*document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := b.inner.Next(ctx)
	if err == nil || isTerminal(err) {
		return doc, err
	}
	var se *StageError
	if errors.As(err, &se) {
		return nil, err
	}
	return nil, &StageError{Stage: b.stage.Type(), Index: b.index, Err: err}
}

func isTerminal(err error) bool {
	return err == io.EOF || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// createStage creates a stage from a definition
func createStage(stageDef *document.Document) (Stage, error) {
	if stageDef == nil || stageDef.Len() != 1 {
		return nil, invalidf("a stage must have exactly one key")
	}
	stageType := stageDef.Keys()[0]
	stageSpec, _ := stageDef.Get(stageType)

	switch stageType {
	case "$match":
		return newMatchStage(stageSpec)
	case "$project":
		return newProjectStage(stageSpec)
	case "$sort":
		return newSortStage(stageSpec)
	case "$limit":
		return newLimitStage(stageSpec)
	case "$skip":
		return newSkipStage(stageSpec)
	case "$group":
		return newGroupStage(stageSpec)
	case "$unwind":
		return newUnwindStage(stageSpec)
	case "$addFields", "$set":
		return newAddFieldsStage(stageType, stageSpec)
	case "$count":
		return newCountStage(stageSpec)
	default:
		return nil, invalidf("unsupported stage type: %s", stageType)
	}
}
