package board

import (
	"errors"
	"fmt"
)

type (
	Kind int

	ValidationError struct {
		Field  string
		Reason string
	}

	// AuthenticationError is returned for every denied request. It carries
	// no detail about which credential was wrong.
	AuthenticationError struct{}

	NotFoundError struct {
		PostID string
	}

	DependencyError struct {
		Op    string
		cause error
	}

	InternalError struct {
		cause error
	}
)

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	}
	return "internal"
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("invalid %v: %v", v.Field, v.Reason)
}

func (AuthenticationError) Error() string {
	return "authentication failed"
}

func (n NotFoundError) Error() string {
	return fmt.Sprintf("post %v not found", n.PostID)
}

func (d DependencyError) Error() string {
	if d.cause == nil {
		return fmt.Sprintf("dependency failure on %v", d.Op)
	}
	return fmt.Sprintf("dependency failure on %v, cause %v", d.Op, d.cause)
}

func (d DependencyError) Unwrap() error { return d.cause }

func (i InternalError) Error() string {
	if i.cause == nil {
		return "internal error"
	}
	return fmt.Sprintf("internal error, cause %v", i.cause)
}

func (i InternalError) Unwrap() error { return i.cause }

// Dependency wraps a storage failure.
func Dependency(op string, cause error) error {
	return DependencyError{Op: op, cause: cause}
}

func Internal(cause error) error {
	return InternalError{cause: cause}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	var (
		verr ValidationError
		aerr AuthenticationError
		nerr NotFoundError
		derr DependencyError
	)
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &verr):
		return KindValidation
	case errors.As(err, &aerr):
		return KindAuthentication
	case errors.As(err, &nerr):
		return KindNotFound
	case errors.As(err, &derr):
		return KindDependency
	}
	return KindInternal
}
