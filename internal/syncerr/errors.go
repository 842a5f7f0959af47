// File: internal/syncerr/errors.go
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how far it propagates.
type Kind int

const (
	// KindConfiguration covers missing credentials and missing mandatory
	// properties. Fatal for the whole run or the branch being expanded.
	KindConfiguration Kind = iota + 1
	// KindRemoteLookup covers failed default-value or mapped-property lookups.
	// Fatal per branch.
	KindRemoteLookup
	// KindAuthentication is returned when bug filing authentication was
	// required and rejected. Fatal per branch.
	KindAuthentication
	// KindSubmission is returned when the target rejected a rendered field map.
	// Fatal per group only.
	KindSubmission
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRemoteLookup:
		return "remote_lookup"
	case KindAuthentication:
		return "authentication"
	case KindSubmission:
		return "submission"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Configuration builds a KindConfiguration error from a formatted message.
func Configuration(op, format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// RemoteLookup classifies err as a failed remote lookup.
func RemoteLookup(op string, err error) error {
	return Wrap(KindRemoteLookup, op, err)
}

// Authentication classifies err as a rejected authentication.
func Authentication(op string, err error) error {
	return Wrap(KindAuthentication, op, err)
}

// Submission classifies err as a rejected submission.
func Submission(op string, err error) error {
	return Wrap(KindSubmission, op, err)
}

// Wrap attaches kind to err unless err already carries a kind, in which case
// the original classification wins and err is returned unchanged.
// A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
