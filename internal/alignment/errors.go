package alignment

import (
	"errors"
	"fmt"
)

// Failure kinds. Every pipeline error wraps exactly one of these.
var (
	ErrInsufficientFeatures        = errors.New("insufficient features")
	ErrInsufficientMatches         = errors.New("insufficient matches")
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
	ErrDegenerateModel             = errors.New("degenerate model")
	ErrNonInvertibleTransform      = errors.New("non-invertible transform")
)

// Stage is a step of the alignment pipeline.
type Stage int

const (
	StageDetecting Stage = iota
	StageMatching
	StageEstimating
	StageWarping
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageDetecting:
		return "detecting"
	case StageMatching:
		return "matching"
	case StageEstimating:
		return "estimating"
	case StageWarping:
		return "warping"
	case StageDone:
		return "done"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError reports the stage at which an alignment stopped.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(s Stage, err error) error {
	return &StageError{Stage: s, Err: err}
}
