package vectorstore

import (
	"errors"
	"fmt"
)

// Kind classifies vector store failures.
type Kind int

const (
	KindOther Kind = iota
	KindUnavailable
	KindConflict
	KindNotFound
	KindBadDimension
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not-found"
	case KindBadDimension:
		return "bad-dimension"
	default:
		return "other"
	}
}

// Error is a classified vector store failure.
type Error struct {
	Kind       Kind
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("vectorstore %s %q (%s): %v", e.Op, e.Collection, e.Kind, e.Err)
	}
	return fmt.Sprintf("vectorstore %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError unwraps a vectorstore Error from |err|, or returns nil.
func AsError(err error) *Error {
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}
	return nil
}
