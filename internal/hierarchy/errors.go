package hierarchy

import (
	"errors"
	"fmt"
)

// Kind classifies an error into the caller-facing taxonomy.
type Kind int

const (
	// KindAuthenticationRequired: the request carried no verified identity.
	KindAuthenticationRequired Kind = iota + 1
	// KindAccessDenied: the record exists but belongs to another user.
	KindAccessDenied
	// KindNotFound: an update/delete targeted a record that was never created.
	KindNotFound
	// KindInvalidDelegation: the delegation target is not a strict ancestor of
	// the source, or the refs span users.
	KindInvalidDelegation
	// KindBackendUnavailable: the storage adapter timed out or lost its
	// connection.
	KindBackendUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindInvalidDelegation:
		return "invalid_delegation"
	case KindBackendUnavailable:
		return "backend_unavailable"
	}
	return "unknown"
}

// Error carries enough structured detail (level, entity id, reason) for the
// caller to log without re-deriving context.
type Error struct {
	Kind     Kind
	Level    Level
	EntityID string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Level != "" || e.EntityID != "" {
		msg = fmt.Sprintf("%s: %s/%s", msg, e.Level, e.EntityID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a taxonomy error.
func NewError(kind Kind, level Level, entityID, reason string) *Error {
	return &Error{Kind: kind, Level: level, EntityID: entityID, Reason: reason}
}

// WrapBackend marks err as a backend availability failure.
func WrapBackend(level Level, entityID string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Level: level, EntityID: entityID, Err: err}
}

// KindOf extracts the taxonomy kind from err, or 0 if err is untyped.
func KindOf(err error) Kind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return 0
}

// IsKind reports whether err belongs to the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func IsAuthenticationRequired(err error) bool { return IsKind(err, KindAuthenticationRequired) }
func IsAccessDenied(err error) bool           { return IsKind(err, KindAccessDenied) }
func IsNotFound(err error) bool               { return IsKind(err, KindNotFound) }
func IsInvalidDelegation(err error) bool      { return IsKind(err, KindInvalidDelegation) }
func IsBackendUnavailable(err error) bool     { return IsKind(err, KindBackendUnavailable) }
