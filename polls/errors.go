package polls

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies every failure that leaves the polls package.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindValidation
	KindStore
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindValidation:
		return "validation error"
	case KindStore:
		return "store error"
	case KindInvalidInput:
		return "invalid input"
	}
	return "unknown"
}

// Error is returned by every Engine operation. Message is safe to show to the
// user; Err holds the underlying cause and is only meant for logs.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
	Err     error
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrStore           = &Error{Kind: KindStore}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for field, msgs := range e.Fields {
		fmt.Fprintf(&b, "; %s: %s", field, strings.Join(msgs, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test against the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or zero when err did not come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
