package inject

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable: the callable has no readable declaration.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrParse: the declaration could not be parsed or located.
	ErrParse = errors.New("parse error")
	// ErrAlreadyTransformed: the body already starts with an assertion block.
	ErrAlreadyTransformed = errors.New("already transformed")
	// ErrInternal: the spliced declaration failed to compile.
	ErrInternal = errors.New("internal invariant violation")
)

// StageError records which stage of a transformation failed. Stage is the
// state the transformation was trying to reach.
type StageError struct {
	Stage State
	Func  string
	Err   error
}

func (e *StageError) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("inject: %s: %v", e.Stage.step(), e.Err)
	}
	return fmt.Sprintf("inject: %s %s: %v", e.Stage.step(), e.Func, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage State, fn string, kind error, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Func: fn, Err: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}
