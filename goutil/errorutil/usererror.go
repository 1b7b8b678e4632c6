package errorutil

import (
	"fmt"

	"github.com/pkg/errors"
)

// combinedError carries an internal error together with a separate error meant
// for the user. For example
//
// return CombinedError(
//
//	originalError,
//	errClusterUnreachable, // created using NewUserError
//
// )
//
// Error() wraps the original with the user error to provide the most context,
// while Is() matches either half so user-facing messages can be picked out at
// the display boundary.
//
// example Is() usage: errors.Is(err, errClusterUnreachable)
// returns true if the original or the combinedError is the target error.
type combinedError struct {
	original  error
	userError *userError
}

// userError makes CombinedError() less error-prone by requiring the caller to
// mark which error is the user error.
type userError struct {
	error
}

type formatted interface {
	error
	Format(s fmt.State, verb rune)
}

func NewUserError(msg string) *userError {
	return &userError{error: errors.New(msg)}
}

func NewUserErrorf(msg string, args ...any) *userError {
	return &userError{error: errors.New(fmt.Sprintf(msg, args...))}
}

func CombinedError(original error, userErr *userError) error {
	if original == nil || hasUserError(original) {
		return original
	}
	return &combinedError{original, userErr}
}

func AddUserMessagef(original error, msg string, args ...any) error {
	if original == nil || hasUserError(original) {
		return original
	}
	return &combinedError{original, NewUserError(fmt.Sprintf(msg, args...))}
}

func GetUserErrorMessage(err error) string {
	ce := &combinedError{}
	if errors.As(err, &ce) {
		return ce.UserError().Error()
	}
	us := &userError{}
	if errors.As(err, &us) {
		return us.Error()
	}
	return ""
}

func (err *combinedError) Error() string {
	return err.Combine().Error()
}

func (err *combinedError) UserError() error {
	return err.userError
}

func (err *combinedError) Combine() formatted {
	var f formatted // We don't need errors.As here, but it makes the linter happy
	errors.As(errors.Wrap(err.original, err.userError.Error()), &f)
	return f
}

// Is equals to either the cause or the user error
func (err *combinedError) Is(target error) bool {
	return errors.Is(err.original, target) || errors.Is(err.userError, target)
}

// Unwrap provides compatibility for Go 1.13 error chains.
func (err *combinedError) Unwrap() error { return err.Cause() }

// Leverage functionality of errors.Cause
func (err *combinedError) Cause() error { return errors.Cause(err.original) }

// Format allows us to use %+v as implemented by github.com/pkg/errors.
func (err *combinedError) Format(s fmt.State, verb rune) {
	err.Combine().Format(s, verb)
}

// hasUserError returns true if the error is a user error or combined
func hasUserError(err error) bool {
	ce := &combinedError{}
	us := &userError{}
	return errors.As(err, &ce) || errors.As(err, &us)
}
