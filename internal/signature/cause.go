package signature

import (
	"errors"
	"fmt"
)

// Kind distinguishes the two shapes a reported failure can take.
type Kind int

const (
	// KindError is a Go error value.
	KindError Kind = iota
	// KindValue is any non-error value, typically from panic.
	KindValue
)

func (k Kind) String() string {
	if k == KindError {
		return "error"
	}
	return "value"
}

// Cause is a reported failure: either an error or an arbitrary value.
// The zero Cause is a nil error.
type Cause struct {
	kind  Kind
	err   error
	value any
}

// FromError wraps an error.
func FromError(err error) Cause {
	return Cause{kind: KindError, err: err}
}

// FromValue wraps a non-error value. Error values are routed to FromError.
func FromValue(v any) Cause {
	if err, ok := v.(error); ok {
		return FromError(err)
	}
	return Cause{kind: KindValue, value: v}
}

// FromRecovered converts the result of recover() into a Cause.
func FromRecovered(r any) Cause {
	if r == nil {
		return FromValue("panic: nil")
	}
	return FromValue(r)
}

// Kind reports which shape the cause has.
func (c Cause) Kind() Kind { return c.kind }

// Err returns the wrapped error, or an error describing the value.
func (c Cause) Err() error {
	if c.kind == KindError {
		if c.err == nil {
			return errors.New("nil error")
		}
		return c.err
	}
	return errors.New(c.Message())
}

// Message renders the cause as text. It never panics: a failing Error or
// String method degrades to the dynamic type name.
func (c Cause) Message() (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg = c.typeName()
		}
	}()

	switch c.kind {
	case KindError:
		if c.err == nil {
			return "nil error"
		}
		return c.err.Error()
	default:
		switch v := c.value.(type) {
		case nil:
			return "nil"
		case string:
			return v
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}

func (c Cause) typeName() string {
	if c.kind == KindError {
		return fmt.Sprintf("%T", c.err)
	}
	return fmt.Sprintf("%T", c.value)
}
