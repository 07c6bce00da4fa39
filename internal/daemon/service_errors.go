package daemon

import (
	"errors"
	"fmt"

	"autoboard/internal/store"
)

type ServiceErrorKind string

const (
	ServiceErrorInvalid     ServiceErrorKind = "invalid"
	ServiceErrorNotFound    ServiceErrorKind = "not_found"
	ServiceErrorUnavailable ServiceErrorKind = "unavailable"
	ServiceErrorConflict    ServiceErrorKind = "conflict"
)

type ServiceError struct {
	Kind    ServiceErrorKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsServiceErrorKind reports whether err carries a ServiceError of kind.
func IsServiceErrorKind(err error, kind ServiceErrorKind) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Kind == kind
}

// serviceErrorMessage is the client-facing text of err.
func serviceErrorMessage(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	return err.Error()
}

func invalidError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorInvalid, Message: message, Err: err}
}

func notFoundError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorNotFound, Message: message, Err: err}
}

func unavailableError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorUnavailable, Message: message, Err: err}
}

func conflictError(message string, err error) *ServiceError {
	return &ServiceError{Kind: ServiceErrorConflict, Message: message, Err: err}
}

// storeError translates repository errors into service errors. Anything the
// store does not classify is returned unchanged and becomes a 500.
func storeError(err error, notFoundMessage string) error {
	if err == nil {
		return nil
	}
	var validation *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFoundError(notFoundMessage, nil)
	case errors.As(err, &validation):
		return invalidError(validation.Message, nil)
	case errors.Is(err, store.ErrDuplicateSequence):
		return conflictError(err.Error(), nil)
	default:
		return err
	}
}
