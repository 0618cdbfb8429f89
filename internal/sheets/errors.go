package sheets

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContainerSelected is returned by range operations when no
	// spreadsheet has been selected.
	ErrNoContainerSelected = errors.New("sheets: no spreadsheet selected")

	// ErrNotSignedIn is returned by the credential holder before a grant.
	ErrNotSignedIn = errors.New("sheets: not signed in")

	// ErrConsentSuperseded fails a pending consent request replaced by a newer one.
	ErrConsentSuperseded = errors.New("sheets: consent request superseded by a newer request")

	// ErrUnknownConsentState is returned when a consent redirect does not
	// match the pending request.
	ErrUnknownConsentState = errors.New("sheets: consent state does not match a pending request")
)

// ConfigurationError reports a missing setting or a configuration the remote
// rejected as malformed. Not retryable without fixing deployment config.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Setting != "" {
		return fmt.Sprintf("sheets: %s is missing; set it in the environment", e.Setting)
	}
	return fmt.Sprintf("sheets: invalid API configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CapabilityError reports that the API key lacks permission for the
// spreadsheet or file-storage APIs.
type CapabilityError struct {
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("sheets: API key does not have permission to access the Sheets and Drive APIs; enable them for the project: %v", e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// ScriptLoadError reports that an external surface never became available or
// the API client failed to load within its bound.
type ScriptLoadError struct {
	Surface string
	Err     error
}

func (e *ScriptLoadError) Error() string {
	return fmt.Sprintf("sheets: %s failed to load: %v", e.Surface, e.Err)
}

func (e *ScriptLoadError) Unwrap() error { return e.Err }

// ConsentError reports a failed interactive consent. Denied is true when the
// user declined.
type ConsentError struct {
	Denied bool
	Reason string
	Err    error
}

func (e *ConsentError) Error() string {
	if e.Denied {
		return "sheets: access was denied; make sure the account has been added to the OAuth consent screen"
	}
	if e.Err != nil {
		return fmt.Sprintf("sheets: no token received: %v", e.Err)
	}
	reason := e.Reason
	if reason == "" {
		reason = "unknown error"
	}
	return "sheets: no token received: " + reason
}

func (e *ConsentError) Unwrap() error { return e.Err }

// NotFoundError reports a sheet, spreadsheet or record that could not be located.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("sheets: %s %q not found", e.Kind, e.Name)
}

// OperationError wraps any other remote-call failure.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("sheets: failed to %s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// InitializationError wraps a configure failure that is neither a
// permission nor a malformed-configuration rejection.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("sheets: failed to initialize Google API: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
