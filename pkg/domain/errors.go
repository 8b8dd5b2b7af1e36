package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound marks an identifier that is valid but absent upstream or in the store.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest marks malformed input. It is never retried.
	ErrBadRequest = errors.New("bad request")
)

// Error carries a user-facing message on top of one of the sentinels above.
type Error struct {
	kind error
	msg  string
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.kind }

// NotFoundf builds an ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return &Error{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

// BadRequestf builds an ErrBadRequest with a formatted message.
func BadRequestf(format string, args ...any) error {
	return &Error{kind: ErrBadRequest, msg: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether err maps to a known client-facing status.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest)
}

var asinPattern = regexp.MustCompile(`^[0-9A-Z]{10}$`)

// ValidateASIN rejects identifiers that are not exactly ten upper-case alphanumerics.
func ValidateASIN(asin string) error {
	if !asinPattern.MatchString(asin) {
		return BadRequestf("invalid asin %q", asin)
	}
	return nil
}

// ResolveRegion validates a region code and falls back to def when code is empty.
func ResolveRegion(code, def string) (Region, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = def
	}
	r, ok := LookupRegion(code)
	if !ok {
		return Region{}, BadRequestf("invalid region %q", code)
	}
	return r, nil
}
