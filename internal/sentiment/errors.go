package sentiment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trogers1052/nepse-sentiment/internal/models"
)

// ValidationError reports malformed input. It is the caller's fault and is
// never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a get or delete against a key with no stored row
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// IncompleteDataWarning lists the sectors still missing for a date. It is the
// expected steady state while data entry is in progress.
type IncompleteDataWarning struct {
	Date    time.Time
	Missing []models.Sector
}

func (w *IncompleteDataWarning) Error() string {
	names := make([]string, len(w.Missing))
	for i, s := range w.Missing {
		names[i] = string(s)
	}
	return fmt.Sprintf("market aggregate for %s not computable: missing %d sector(s): %s",
		models.DateKey(w.Date), len(w.Missing), strings.Join(names, ", "))
}

// StorageError wraps a failure of the backing store. Transient failures may be
// retried by the caller; prior state is left intact either way.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a StorageError worth retrying
func IsTransient(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Transient
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// TransientCheck decides whether a raw store error is worth retrying
type TransientCheck func(err error) bool

func defaultTransientCheck(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	// errors raised inside a transaction callback keep their own type
	var (
		se *StorageError
		ve *ValidationError
		nf *NotFoundError
	)
	if errors.As(err, &se) || errors.As(err, &ve) || errors.As(err, &nf) {
		return err
	}
	return &StorageError{Op: op, Transient: e.transient(err), Err: err}
}
