// Package errors defines the sentinel errors shared across the chat core
// and their classification into the error kinds surfaced on the wire.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Session / binding
	ErrAlreadyBound   = fmt.Errorf("connection already bound to a username")
	ErrNotBound       = fmt.Errorf("connection has no bound username")
	ErrUnknownSession = fmt.Errorf("unknown session")

	// Groups
	ErrGroupNotFound     = fmt.Errorf("group not found")
	ErrGroupFull         = fmt.Errorf("group is full")
	ErrGroupInactive     = fmt.Errorf("group is inactive")
	ErrAlreadyMember     = fmt.Errorf("user is already a member")
	ErrNotMember         = fmt.Errorf("user is not a member")
	ErrJoinRestricted    = fmt.Errorf("group does not accept self-join")
	ErrOwnerCannotLeave  = fmt.Errorf("owner cannot leave the group")
	ErrCannotRemoveOwner = fmt.Errorf("owner cannot be removed")
	ErrForbidden         = fmt.Errorf("operation not allowed")
	ErrInvalidName       = fmt.Errorf("invalid group name")
	ErrNameTaken         = fmt.Errorf("group name already in use")
	ErrInvalidCapacity   = fmt.Errorf("invalid group capacity")

	// Publishing
	ErrDuplicate       = fmt.Errorf("duplicate client nonce")
	ErrInvalidMessage  = fmt.Errorf("invalid message")
	ErrMessageNotFound = fmt.Errorf("message not found")
	ErrSlowConsumer    = fmt.Errorf("subscriber buffer overflow")
	ErrStoreFailed     = fmt.Errorf("message store unavailable")

	// Supervision
	ErrWorkerPanic = fmt.Errorf("worker panic")
)

// Kind is the coarse error taxonomy surfaced to clients. Callers may treat
// Conflict errors as success-equivalent on idempotent retries; Transient
// errors may be retried after backoff.
type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindAuthorization Kind = "AUTHORIZATION"
	KindConflict      Kind = "CONFLICT"
	KindCapacity      Kind = "CAPACITY"
	KindNotFound      Kind = "NOT_FOUND"
	KindTransient     Kind = "TRANSIENT"
	KindInternal      Kind = "INTERNAL"
)

// Classify maps a sentinel error onto its taxonomy kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidMessage):
		return KindValidation
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrJoinRestricted),
		errors.Is(err, ErrNotMember),
		errors.Is(err, ErrOwnerCannotLeave),
		errors.Is(err, ErrCannotRemoveOwner),
		errors.Is(err, ErrNotBound):
		return KindAuthorization
	case errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrAlreadyBound),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrNameTaken):
		return KindConflict
	case errors.Is(err, ErrGroupFull),
		errors.Is(err, ErrInvalidCapacity):
		return KindCapacity
	case errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrGroupInactive),
		errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrUnknownSession):
		return KindNotFound
	case errors.Is(err, ErrStoreFailed):
		return KindTransient
	default:
		return KindInternal
	}
}
