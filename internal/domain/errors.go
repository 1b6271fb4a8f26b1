package domain

import "errors"

// Kind classifies a failure.
type Kind int

const (
	// KindNetwork: request rejected, timed out or non-2xx.
	KindNetwork Kind = iota + 1
	// KindShape: response received but missing expected fields.
	KindShape
	// KindValidation: caller-supplied payload malformed.
	KindValidation
)

// Sentinels for errors.Is.
var (
	ErrNetwork    = errors.New("network failure")
	ErrShape      = errors.New("shape mismatch")
	ErrValidation = errors.New("validation failure")
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkFailure"
	case KindShape:
		return "ShapeMismatch"
	case KindValidation:
		return "ValidationFailure"
	}
	return "Unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindShape:
		return ErrShape
	case KindValidation:
		return ErrValidation
	}
	return nil
}

// Error is a classified failure from a store action or the remote client.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// NewError wraps err as a classified failure for op.
func NewError(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or 0 when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
