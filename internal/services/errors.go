// Package services holds operator-facing read logic that sits between the
// HTTP handlers and the order orchestrator. Handlers translate these errors
// into status codes.
package services

import "errors"

var (
	// ErrForbidden is returned when the requester is not the operator.
	ErrForbidden = errors.New("restricted to the operator")

	// ErrInvalidState is returned when a state filter names no known state.
	ErrInvalidState = errors.New("unknown session state")
)
