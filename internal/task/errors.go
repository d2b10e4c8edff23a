package task

import (
	"errors"
	"fmt"
	"strings"
)

// Request rejection errors.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("task already exists for this task_id")
	ErrPrecondition = errors.New("no published task for this task_id")
)

// Store errors.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrImmutableField    = errors.New("published fields are write-once")
)

// StageError is a pipeline stage failure.
type StageError struct {
	Stage Status
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", strings.ToLower(string(e.Stage)), e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Failure converts the error into the record stored on a FAILED task.
func (e *StageError) Failure() *Failure {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &Failure{Kind: e.Kind, Message: msg}
}

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
