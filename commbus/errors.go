package commbus

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrUnknownRecipient is the sentinel matched by UnknownRecipientError.
var ErrUnknownRecipient = errors.New("unknown recipient")

// RouterError is the base error type for router failures.
type RouterError struct {
	Message string
	Cause   error
}

func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RouterError) Unwrap() error {
	return e.Cause
}

// UnknownRecipientError is returned when an envelope is addressed to a role
// with no registered mailbox. The envelope is dropped.
type UnknownRecipientError struct {
	EnvelopeID string
	Recipient  string
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("envelope %s dropped: no mailbox registered for %q", e.EnvelopeID, e.Recipient)
}

func (e *UnknownRecipientError) Is(target error) bool {
	return target == ErrUnknownRecipient
}

// NewUnknownRecipientError creates a new UnknownRecipientError.
func NewUnknownRecipientError(envelopeID, recipient string) *UnknownRecipientError {
	return &UnknownRecipientError{EnvelopeID: envelopeID, Recipient: recipient}
}

// MailboxAlreadyRegisteredError is returned when a role is registered twice.
type MailboxAlreadyRegisteredError struct {
	Role string
}

func (e *MailboxAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("mailbox already registered for %s", e.Role)
}

// NewMailboxAlreadyRegisteredError creates a new MailboxAlreadyRegisteredError.
func NewMailboxAlreadyRegisteredError(role string) *MailboxAlreadyRegisteredError {
	return &MailboxAlreadyRegisteredError{Role: role}
}

// RoleNotInRegistryError is returned when registering a role the router's
// registry does not list.
type RoleNotInRegistryError struct {
	Role string
}

func (e *RoleNotInRegistryError) Error() string {
	return fmt.Sprintf("role %s is not part of this run", e.Role)
}

// NewRoleNotInRegistryError creates a new RoleNotInRegistryError.
func NewRoleNotInRegistryError(role string) *RoleNotInRegistryError {
	return &RoleNotInRegistryError{Role: role}
}
