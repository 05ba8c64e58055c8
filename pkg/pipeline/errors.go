package pipeline

import (
	"fmt"
)

type ErrPipeline = error

func NewPipelineError(err error) ErrPipeline {
	return fmt.Errorf("failed to build pipeline: %w", err)
}

type ErrStage = error

func NewStageError(i int, op string, err error) ErrStage {
	return fmt.Errorf("stage %d (%s): %w", i, op, err)
}

type ErrInvalidObject = error

func NewInvalidObjectError(message string) ErrInvalidObject {
	return fmt.Errorf("invalid object: %s", message)
}
