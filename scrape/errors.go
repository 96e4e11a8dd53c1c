package scrape

import (
	"errors"
	"fmt"
)

// ErrorKind partitions scrape failures by how callers recover.
type ErrorKind int

const (
	// KindTransient covers fetch/parse failures recovered by skipping
	// the target for this pass.
	KindTransient ErrorKind = iota
	// KindRateLimited marks a rate-limit or anti-bot response; the
	// delivery layer reacts with a cooldown.
	KindRateLimited
	// KindAmbiguous means resolution found no acceptable match; the
	// target stays unresolved and is retried next pass.
	KindAmbiguous
	// KindFatal is reserved for unrecoverable configuration problems.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAmbiguous:
		return "ambiguous"
	case KindFatal:
		return "fatal"
	default:
		return "transient"
	}
}

// Error carries the recovery taxonomy alongside the cause.
type Error struct {
	Kind ErrorKind
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

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from an error chain, defaulting to
// KindTransient for unclassified errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsRateLimited reports whether the error chain carries a rate-limit
// classification.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}
