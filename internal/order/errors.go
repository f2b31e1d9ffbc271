package order

import "errors"

// ErrIllegalTransition marks an event that is not valid in the session's
// current state. The user gets a hint and the session is left untouched.
var ErrIllegalTransition = errors.New("order: event not valid in current state")
