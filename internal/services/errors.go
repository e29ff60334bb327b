package services

import (
	"errors"
	"fmt"

	"github.com/huangang/kickoff/backend/internal/models"
)

// ErrorKind classifies failures surfaced to callers.
type ErrorKind string

const (
	KindNotConnected      ErrorKind = "not_connected"
	KindNotFound          ErrorKind = "not_found"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindValidation        ErrorKind = "validation"
	KindPreconditionUnmet ErrorKind = "precondition_unmet"
	KindForbidden         ErrorKind = "forbidden"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindInternal          ErrorKind = "internal"
)

var (
	ErrNotConnected = errors.New("platform not connected")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("not allowed")
	// ErrPlaceholderNotFound means a tabular placeholder is absent from the document.
	ErrPlaceholderNotFound = errors.New("placeholder not found in document")
)

// remoteStatus is implemented by the platform clients' API errors.
type remoteStatus interface {
	HTTPStatus() int
}

// RemoteError is a platform call that came back non-2xx.
type RemoteError struct {
	Platform   models.Platform
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected request (%d): %v", e.Platform, e.StatusCode, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// remote tags err with its platform when it carries an HTTP status.
func remote(platform models.Platform, err error) error {
	if err == nil {
		return nil
	}
	var rs remoteStatus
	if errors.As(err, &rs) {
		return &RemoteError{Platform: platform, StatusCode: rs.HTTPStatus(), Err: err}
	}
	return err
}

// StepError is the failure of one provisioning step.
type StepError struct {
	Step     string          `json:"step"`
	Platform models.Platform `json:"platform,omitempty"`
	Kind     ErrorKind       `json:"kind"`
	Message  string          `json:"message"`
	Err      error           `json:"-"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Step, e.Kind, e.Message)
}

func (e *StepError) Unwrap() error { return e.Err }

func newStepError(step string, platform models.Platform, err error) *StepError {
	return &StepError{Step: step, Platform: platform, Kind: KindOf(err), Message: err.Error(), Err: err}
}

func preconditionError(step string, platform models.Platform, msg string) *StepError {
	return &StepError{Step: step, Platform: platform, Kind: KindPreconditionUnmet, Message: msg}
}

// KindOf maps an error onto the taxonomy.
func KindOf(err error) ErrorKind {
	var se *StepError
	var ve *models.ValidationError
	var re *RemoteError
	var rs remoteStatus
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrDraftLocked):
		return KindInvalidTransition
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &re), errors.As(err, &rs):
		return KindRemoteRejected
	}
	return KindInternal
}
