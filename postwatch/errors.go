// CLAUDE:SUMMARY Sentinel errors for the postwatch service: handle validation, tracking state, sources, settings.
package postwatch

import "errors"

// ErrInvalidHandle is returned when a handle fails validation.
var ErrInvalidHandle = errors.New("postwatch: invalid handle")

// ErrNotTracked is returned when an operation targets an unknown account.
var ErrNotTracked = errors.New("postwatch: account not tracked")

// ErrAlreadyTracked is returned by TrackAccount for a known account.
var ErrAlreadyTracked = errors.New("postwatch: account already tracked")

// ErrPollingDisabled is returned when polling an account whose source
// override is empty.
var ErrPollingDisabled = errors.New("postwatch: polling disabled for account")

// ErrUnknownSource is returned when a source name is not a known adapter.
var ErrUnknownSource = errors.New("postwatch: unknown source")

// ErrInvalidSettings is returned when settings fail validation.
var ErrInvalidSettings = errors.New("postwatch: invalid settings")

// ErrInvalidInput is returned for malformed subscriber or import input.
var ErrInvalidInput = errors.New("postwatch: invalid input")
