package engine

import (
	"fmt"

	"khatma/internal/i18n"
)

// ValidationError reports a malformed id, name or task number. Key names the
// failed rule independently of the message locale.
type ValidationError struct {
	Key     i18n.Key
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// MissingFieldsError reports a mutation request without group, user or task.
type MissingFieldsError struct {
	Fields  []string
	Message string
}

func (e MissingFieldsError) Error() string { return e.Message }

// OwnershipError reports an attempt to move a task held by another user.
type OwnershipError struct {
	TaskID   int
	HolderID string
	Message  string
}

func (e OwnershipError) Error() string { return e.Message }

// AlreadyClaimedError is the done-only policy's rejection of any task that is
// no longer available.
type AlreadyClaimedError struct {
	TaskID  int
	Message string
}

func (e AlreadyClaimedError) Error() string { return e.Message }

// NotFoundError reports an unknown user or group. For users this is the
// expected "please log in" case, not a corruption.
type NotFoundError struct {
	Kind    string
	ID      string
	Message string
}

func (e NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
