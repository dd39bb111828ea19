package service

import (
	"fmt"

	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/model"
	"github.com/PikachuMeh/gestiondeaccesos-maste/internal/repository"
)

// ErrVisitNotFound wraps repository.ErrNotFound, so errors.Is matches both.
var ErrVisitNotFound = fmt.Errorf("visit %w", repository.ErrNotFound)

// ValidationError reports bad input. Field uses the JSON name the client sent.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IllegalTransition is returned when an operation does not apply to the
// visit's current status. The stored visit is left unchanged.
type IllegalTransition struct {
	From model.VisitStatus
	To   model.VisitStatus
	Msg  string
}

func (e *IllegalTransition) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

// PersistenceError wraps a storage failure. Its message is not meant for
// clients; handlers answer 500.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
