package models

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid draft status transition")
	ErrDraftLocked       = errors.New("draft is approved and can no longer be edited")
)

// ValidationError reports a rejected input before any state is changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}
