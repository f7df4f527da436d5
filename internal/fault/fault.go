// Package fault classifies pipeline failures so the consumer can decide how to
// settle a message without inspecting error text.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers timeouts, rate limits, and temporary unavailability.
	KindTransient
	// KindResourceExhausted means the input can never fit the provider's limits.
	KindResourceExhausted
	// KindMalformed means the input itself is invalid and retrying will not help.
	KindMalformed
	KindNotFound
	// KindConfig covers credential, schema, and dimension problems.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindMalformed:
		return "malformed"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same input may succeed on a later attempt.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindUnknown
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Transient(op string, err error) error { return New(KindTransient, op, err) }

func Malformed(op string, err error) error { return New(KindMalformed, op, err) }

func ResourceExhausted(op string, err error) error { return New(KindResourceExhausted, op, err) }

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified deadline and network timeout errors count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
