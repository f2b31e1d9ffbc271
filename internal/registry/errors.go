package registry

import "errors"

var (
	// ErrUnauthorized is returned by Set when the requester is not the operator.
	ErrUnauthorized = errors.New("registry: requester is not the operator")

	// ErrInvalidAddress is returned by Set when the address is not an http(s)
	// URL ending in the generation route suffix.
	ErrInvalidAddress = errors.New("registry: invalid endpoint address")
)
