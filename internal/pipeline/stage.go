// Package pipeline groups a collection into ordered stage buckets and drives
// drag-and-drop stage reassignment with optimistic placement and rollback.
package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage reports a stage outside the configured set.
	ErrUnknownStage = errors.New("pipeline: unknown stage")
	// ErrUnknownItem reports a drag on an item that is not displayed.
	ErrUnknownItem = errors.New("pipeline: unknown item")
	// ErrCommitInFlight rejects a gesture while a stage change is committing.
	ErrCommitInFlight = errors.New("pipeline: stage change in flight")
)

// Stage identifies one pipeline step.
type Stage string

// Item is a record that can be placed on the board.
type Item interface {
	PipelineID() string
	PipelineStage() Stage
	PipelineValue() float64
}

// Stages is a finite ordered set of stages.
type Stages []Stage

// NewStages validates that list is non-empty and free of duplicates.
func NewStages(list ...Stage) (Stages, error) {
	if len(list) == 0 {
		return nil, errors.New("pipeline: at least one stage required")
	}
	seen := make(map[Stage]struct{}, len(list))
	for _, s := range list {
		if s == "" {
			return nil, errors.New("pipeline: empty stage")
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", s)
		}
		seen[s] = struct{}{}
	}
	return append(Stages(nil), list...), nil
}

// MustStages is NewStages for package-level declarations.
func MustStages(list ...Stage) Stages {
	s, err := NewStages(list...)
	if err != nil {
		panic(err)
	}
	return s
}

// Index returns the position of s or -1.
func (s Stages) Index(stage Stage) int {
	for i, v := range s {
		if v == stage {
			return i
		}
	}
	return -1
}

// Contains reports whether stage belongs to the set.
func (s Stages) Contains(stage Stage) bool {
	return s.Index(stage) >= 0
}

// Parse converts raw to a member of the set.
func (s Stages) Parse(raw string) (Stage, error) {
	stage := Stage(raw)
	if !s.Contains(stage) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
	}
	return stage, nil
}
