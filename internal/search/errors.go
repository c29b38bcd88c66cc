package search

import "errors"

var (
	// ErrLaunch means the browser could not be started. It is not retried.
	ErrLaunch = errors.New("browser launch failed")
	// ErrNavigationExhausted means every navigation attempt failed. The
	// wrapped chain carries the last attempt's error.
	ErrNavigationExhausted = errors.New("navigation failed")
	// ErrRequiredFieldNotFound means the specialty input could not be located.
	ErrRequiredFieldNotFound = errors.New("could not find specialty search field on the page")
)
