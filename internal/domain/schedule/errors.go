package schedule

import "errors"

// ErrLimitExceeded is returned when a request carries more trains or
// sections than the engine accepts.
var ErrLimitExceeded = errors.New("limit exceeded")
