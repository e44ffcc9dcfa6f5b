package model

import (
	"errors"
	"fmt"
)

// ErrInvalid marks input that violates a domain invariant.
var ErrInvalid = errors.New("invalid")

// ValidationError describes the first violated invariant of a value.
type ValidationError struct {
	What   string
	Reason string
}

func (e *ValidationError) Error() string { return "invalid " + e.What + ": " + e.Reason }

// Is lets callers match any ValidationError with errors.Is(err, ErrInvalid).
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

func invalid(what, format string, args ...any) error {
	return &ValidationError{What: what, Reason: fmt.Sprintf(format, args...)}
}
