package shared

import "errors"

var (
	// ErrPermissionDenied indicates the actor's role or department does not satisfy a guard.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidTransition indicates the operation is not allowed from the entity's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrValidation indicates a structural input problem.
	ErrValidation = errors.New("invalid input")
	// ErrNotFound indicates the referenced entity does not exist or is not visible.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a concurrent mutation was detected; callers retry once before surfacing.
	ErrConflict = errors.New("concurrent modification detected")
	// ErrCollaborator indicates a collaborator (document generator, audit sink) failed
	// after the business transaction already committed.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserSafeMessage maps internal errors to text safe to show to end users.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "You are not allowed to perform this action."
	case errors.Is(err, ErrInvalidTransition):
		return "This record was already processed and can no longer be changed this way."
	case errors.Is(err, ErrValidation):
		return "The submitted data is invalid."
	case errors.Is(err, ErrNotFound):
		return "Record not found."
	case errors.Is(err, ErrConflict):
		return "The record was modified by someone else. Please try again."
	case errors.Is(err, ErrCollaborator):
		return "The operation completed, but a follow-up step failed and will be retried."
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	default:
		return "An unexpected error occurred."
	}
}
