package connector

import (
	"errors"
	"fmt"
)

// The connector distinguishes four error categories:
//
//   - AuthError: credentials rejected (401/403). Non-retryable, aborts
//     the run.
//   - FetchError: the source could not be read. Transient variants are
//     retried up to the configured bound, then the run aborts without
//     advancing the cursor.
//   - MappingError: one appointment is missing a mandatory field. The
//     record is skipped and logged; the batch continues.
//   - WriteError: one draft could not be created in the sink. Transient
//     variants are retried, then the record is skipped and logged.

// AuthError indicates the source or sink rejected our credentials.
type AuthError struct {
	System     string // "source" or "sink"
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed (status %d): %v", e.System, e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError indicates a failure reading appointments from the source.
type FetchError struct {
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching appointments: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MappingError indicates an appointment could not be converted into a
// service request draft.
type MappingError struct {
	AppointmentID string
	Field         string
	Err           error
}

func (e *MappingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("mapping appointment %s: field %q: %v", e.AppointmentID, e.Field, e.Err)
	}
	return fmt.Sprintf("mapping appointment %s: %v", e.AppointmentID, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// WriteError indicates a draft could not be created in the ticketing
// system.
type WriteError struct {
	AppointmentID string
	StatusCode    int
	Transient     bool
	Err           error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing service request for appointment %s: %v", e.AppointmentID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry. Network-level
// failures (no HTTP status) are treated as transient; typed errors
// carry their own classification.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	var we *WriteError
	if errors.As(err, &we) {
		return we.Transient
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return false
	}
	return true
}

// TransientStatus reports whether an HTTP status code is worth
// retrying: 5xx and 429 are, other 4xx are not.
func TransientStatus(status int) bool {
	return status >= 500 || status == 429
}
