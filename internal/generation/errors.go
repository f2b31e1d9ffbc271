package generation

import "errors"

var (
	// ErrUnknownProduct is returned when the product id is not in the catalog.
	ErrUnknownProduct = errors.New("generation: unknown product")

	// ErrBackendUnavailable is returned when no backend address is registered.
	ErrBackendUnavailable = errors.New("generation: backend unavailable")

	// ErrGenerationFailed covers transport errors, timeouts, non-2xx replies
	// and payloads that are not images.
	ErrGenerationFailed = errors.New("generation: backend failed")
)
